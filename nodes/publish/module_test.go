package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/schema"
)

func lookup(t *testing.T) *schema.NodeType {
	t.Helper()
	reg := registry.New()
	(&Module{}).Register(reg)
	nt, err := reg.Lookup("Publish", "")
	require.NoError(t, err)
	return nt
}

func TestRunCopiesFiles(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("payload"), 0o644))

	dest := filepath.Join(t.TempDir(), "out")
	view := &schema.NodeView{
		Inputs: map[string]cty.Value{
			"files":       cty.ListVal([]cty.Value{cty.StringVal(a)}),
			"destination": cty.StringVal(dest),
		},
		Outputs: map[string]cty.Value{},
	}
	require.NoError(t, lookup(t).Run(context.Background(), view, chunk.FullRange))

	copied := filepath.Join(dest, "a.txt")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, cty.ListVal([]cty.Value{cty.StringVal(copied)}), view.Outputs["published"])
}

func TestRunRequiresDestination(t *testing.T) {
	view := &schema.NodeView{
		Inputs: map[string]cty.Value{
			"files":       cty.ListValEmpty(cty.String),
			"destination": cty.NullVal(cty.String),
		},
		Outputs: map[string]cty.Value{},
	}
	err := lookup(t).Run(context.Background(), view, chunk.FullRange)
	assert.ErrorContains(t, err, "destination is required")
}

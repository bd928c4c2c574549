package jsontmpl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/config"
)

const sampleTemplate = `{
  "header": {
    "nodesVersions": {"Checksum": "1.0"},
    "releaseVersion": "2026.1",
    "fileVersion": "1.0"
  },
  "graph": {
    "list_1": {
      "nodeType": "ImageListing",
      "position": [0, 10],
      "inputs": {
        "folder": "/data/images",
        "extension": ".jpg"
      }
    },
    "sum_1": {
      "nodeType": "Checksum",
      "position": [200, 10],
      "inputs": {
        "files": "{list_1.files}",
        "size": "{list_1.count}"
      },
      "internalInputs": {
        "comment": "hash everything"
      }
    }
  }
}`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	model, err := NewLoader().Load(context.Background(), writeTemplate(t, sampleTemplate))
	require.NoError(t, err)

	assert.Equal(t, "2026.1", model.ReleaseVersion)
	assert.Equal(t, "1.0", model.FileVersion)
	assert.Equal(t, map[string]string{"Checksum": "1.0"}, model.NodesVersions)

	require.Len(t, model.Nodes, 2)

	list := model.Nodes[0]
	assert.Equal(t, "list_1", list.Name)
	assert.Equal(t, "ImageListing", list.NodeType)
	assert.Equal(t, [2]int{0, 10}, list.Position)
	require.Len(t, list.Inputs, 2)
	assert.Equal(t, "folder", list.Inputs[0].Name)
	assert.Equal(t, cty.StringVal("/data/images"), list.Inputs[0].Value)
	assert.Equal(t, "extension", list.Inputs[1].Name)

	sum := model.Nodes[1]
	assert.Equal(t, "sum_1", sum.Name)
	// Link expressions load as plain strings; the graph builder interprets
	// them later.
	assert.Equal(t, cty.StringVal("{list_1.files}"), sum.Inputs[0].Value)
	require.Len(t, sum.InternalInputs, 1)
	assert.Equal(t, cty.StringVal("hash everything"), sum.InternalInputs[0].Value)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().Load(ctx, filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorContains(t, err, "reading template")
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := NewLoader().Load(ctx, writeTemplate(t, `{"header": `))
		assert.ErrorContains(t, err, "parsing template")
	})

	t.Run("graph must be an object", func(t *testing.T) {
		_, err := NewLoader().Load(ctx, writeTemplate(t, `{"graph": [1, 2]}`))
		assert.ErrorContains(t, err, "expected JSON object")
	})
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader()

	model, err := loader.Load(ctx, writeTemplate(t, sampleTemplate))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, loader.Save(ctx, model, out))

	reloaded, err := loader.Load(ctx, out)
	require.NoError(t, err)

	assert.Equal(t, model.ReleaseVersion, reloaded.ReleaseVersion)
	assert.Equal(t, model.NodesVersions, reloaded.NodesVersions)
	require.Len(t, reloaded.Nodes, 2)
	for i, n := range model.Nodes {
		assert.Equal(t, n.Name, reloaded.Nodes[i].Name)
		assert.Equal(t, n.NodeType, reloaded.Nodes[i].NodeType)
		assert.Equal(t, n.Position, reloaded.Nodes[i].Position)
		require.Len(t, reloaded.Nodes[i].Inputs, len(n.Inputs))
		for j, in := range n.Inputs {
			assert.Equal(t, in.Name, reloaded.Nodes[i].Inputs[j].Name)
			assert.True(t, in.Value.RawEquals(reloaded.Nodes[i].Inputs[j].Value),
				"input %s of %s changed across save/load", in.Name, n.Name)
		}
	}
}

func TestSaveOrderStability(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader()

	model := &config.Model{
		NodesVersions: map[string]string{},
		FileVersion:   "1.0",
		Nodes: []*config.NodeDesc{
			{Name: "zz_first", NodeType: "A", Inputs: []*config.InputDesc{
				{Name: "z_attr", Value: cty.NumberIntVal(1)},
				{Name: "a_attr", Value: cty.NumberIntVal(2)},
			}},
			{Name: "aa_second", NodeType: "B"},
		},
	}

	out := filepath.Join(t.TempDir(), "ordered.json")
	require.NoError(t, loader.Save(ctx, model, out))
	reloaded, err := loader.Load(ctx, out)
	require.NoError(t, err)

	// Declaration order survives the round trip even when it disagrees
	// with lexical order.
	assert.Equal(t, "zz_first", reloaded.Nodes[0].Name)
	assert.Equal(t, "aa_second", reloaded.Nodes[1].Name)
	assert.Equal(t, "z_attr", reloaded.Nodes[0].Inputs[0].Name)
	assert.Equal(t, "a_attr", reloaded.Nodes[0].Inputs[1].Name)
}

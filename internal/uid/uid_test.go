package uid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/config"
	"github.com/vk/pipegridgo/internal/graph"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/schema"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterType(&schema.NodeType{
		Type:    "Listing",
		Version: "1.0",
		Attrs: []*attr.Spec{
			{Name: "folder", Type: cty.String, Invalidating: true, Enabled: true},
			{Name: "comment", Type: cty.String, Default: cty.StringVal(""), Enabled: true},
			{Name: "files", Type: cty.List(cty.String), IsOutput: true, Enabled: true},
		},
	})
	reg.RegisterType(&schema.NodeType{
		Type:    "Transform",
		Version: "1.0",
		Attrs: []*attr.Spec{
			{Name: "files", Type: cty.List(cty.String), Invalidating: true, Enabled: true},
			{Name: "out", Type: cty.List(cty.String), IsOutput: true, Enabled: true},
		},
	})
	return reg
}

func buildGraph(t *testing.T, folder string) *graph.Graph {
	t.Helper()
	model := &config.Model{
		Nodes: []*config.NodeDesc{
			{
				Name:     "list_1",
				NodeType: "Listing",
				Inputs:   []*config.InputDesc{{Name: "folder", Value: cty.StringVal(folder)}},
			},
			{
				Name:     "tf_1",
				NodeType: "Transform",
				Inputs:   []*config.InputDesc{{Name: "files", Value: cty.StringVal("{list_1.files}")}},
			},
		},
	}
	g, err := graph.Build(context.Background(), model, testRegistry())
	require.NoError(t, err)
	require.NoError(t, g.SetOutputValue("list_1", "files",
		cty.ListVal([]cty.Value{cty.StringVal("a.jpg")})))
	return g
}

func mustCompute(t *testing.T, g *graph.Graph, name string) UID {
	t.Helper()
	n, ok := g.Node(name)
	require.True(t, ok)
	u, err := Compute(g, n)
	require.NoError(t, err)
	return u
}

func TestComputeIsPure(t *testing.T) {
	g1 := buildGraph(t, "/data")
	g2 := buildGraph(t, "/data")

	// Equal inputs yield equal fingerprints across graph instances.
	assert.Equal(t, mustCompute(t, g1, "list_1"), mustCompute(t, g2, "list_1"))
	assert.Equal(t, mustCompute(t, g1, "tf_1"), mustCompute(t, g2, "tf_1"))
	assert.Len(t, string(mustCompute(t, g1, "list_1")), 64)
}

func TestComputeSensitivity(t *testing.T) {
	t.Run("invalidating input changes the fingerprint", func(t *testing.T) {
		a := buildGraph(t, "/data")
		b := buildGraph(t, "/other")
		assert.NotEqual(t, mustCompute(t, a, "list_1"), mustCompute(t, b, "list_1"))
	})

	t.Run("non-invalidating input does not", func(t *testing.T) {
		a := buildGraph(t, "/data")
		b := buildGraph(t, "/data")
		require.NoError(t, b.SetValue("list_1", "comment", cty.StringVal("display only")))
		assert.Equal(t, mustCompute(t, a, "list_1"), mustCompute(t, b, "list_1"))
	})

	t.Run("upstream value change propagates through links", func(t *testing.T) {
		a := buildGraph(t, "/data")
		b := buildGraph(t, "/data")
		require.NoError(t, b.SetOutputValue("list_1", "files",
			cty.ListVal([]cty.Value{cty.StringVal("b.jpg")})))
		assert.NotEqual(t, mustCompute(t, a, "tf_1"), mustCompute(t, b, "tf_1"))
	})

	t.Run("disabled attribute is excluded", func(t *testing.T) {
		a := buildGraph(t, "/data")
		b := buildGraph(t, "/other")
		for _, g := range []*graph.Graph{a, b} {
			n, ok := g.Node("list_1")
			require.True(t, ok)
			at, ok := n.Attr("folder")
			require.True(t, ok)
			at.SetEnabled(false)
		}
		assert.Equal(t, mustCompute(t, a, "list_1"), mustCompute(t, b, "list_1"))
	})
}

func TestDir(t *testing.T) {
	u := UID("ab3f00000000000000000000000000000000000000000000000000000000cafe")
	assert.Equal(t, "/cache/ab/"+string(u), Dir("/cache", u))
	assert.Equal(t, "ab3f0000", u.Short())
}

// Package hcltmpl loads pipeline templates written in HCL syntax. It is an
// alternative front end to the same format-agnostic model the JSON loader
// produces; link expressions use the identical {Node.attr} string grammar.
package hcltmpl

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/pipegridgo/internal/config"
	"github.com/vk/pipegridgo/internal/ctxlog"
)

// Loader implements config.Loader for HCL templates.
type Loader struct{}

// NewLoader returns an HCL template loader.
func NewLoader() *Loader { return &Loader{} }

var templateSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "release_version"},
		{Name: "file_version"},
		{Name: "versions"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "node", LabelNames: []string{"node_type", "name"}},
	},
}

var nodeSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "position"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "input"},
		{Type: "internal"},
	},
}

// Load parses an HCL template file into the format-agnostic model. All
// expressions are evaluated statically; templates carry values and link
// strings, never computation.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL template %s: %w", path, diags)
	}

	content, diags := file.Body.Content(templateSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid template %s: %w", path, diags)
	}

	model := &config.Model{NodesVersions: make(map[string]string)}

	if a, ok := content.Attributes["release_version"]; ok {
		if err := decodeString(a, &model.ReleaseVersion); err != nil {
			return nil, err
		}
	}
	if a, ok := content.Attributes["file_version"]; ok {
		if err := decodeString(a, &model.FileVersion); err != nil {
			return nil, err
		}
	}
	if a, ok := content.Attributes["versions"]; ok {
		v, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating versions: %w", diags)
		}
		for it := v.ElementIterator(); it.Next(); {
			k, ver := it.Element()
			model.NodesVersions[k.AsString()] = ver.AsString()
		}
	}

	for _, block := range content.Blocks {
		desc, err := decodeNodeBlock(block)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", block.Labels[1], err)
		}
		model.Nodes = append(model.Nodes, desc)
	}

	logger.Debug("HCL template loaded.", "path", path, "node_count", len(model.Nodes))
	return model, nil
}

func decodeNodeBlock(block *hcl.Block) (*config.NodeDesc, error) {
	desc := &config.NodeDesc{
		NodeType: block.Labels[0],
		Name:     block.Labels[1],
	}

	content, diags := block.Body.Content(nodeSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid node block: %w", diags)
	}

	if a, ok := content.Attributes["position"]; ok {
		v, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating position: %w", diags)
		}
		i := 0
		for it := v.ElementIterator(); it.Next() && i < 2; i++ {
			_, elem := it.Element()
			f, _ := elem.AsBigFloat().Int64()
			desc.Position[i] = int(f)
		}
	}

	for _, inner := range content.Blocks {
		inputs, err := decodeInputBlock(inner)
		if err != nil {
			return nil, err
		}
		switch inner.Type {
		case "input":
			desc.Inputs = append(desc.Inputs, inputs...)
		case "internal":
			desc.InternalInputs = append(desc.InternalInputs, inputs...)
		}
	}
	return desc, nil
}

// decodeInputBlock evaluates every attribute of an input block in source
// order, so declaration order survives the parse.
func decodeInputBlock(block *hcl.Block) ([]*config.InputDesc, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid %s block: %w", block.Type, diags)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, a := range attrs {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	out := make([]*config.InputDesc, 0, len(ordered))
	for _, a := range ordered {
		v, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating attribute %q: %w", a.Name, diags)
		}
		out = append(out, &config.InputDesc{Name: a.Name, Value: v})
	}
	return out, nil
}

func decodeString(a *hcl.Attribute, dst *string) error {
	v, diags := a.Expr.Value(nil)
	if diags.HasErrors() {
		return fmt.Errorf("evaluating %s: %w", a.Name, diags)
	}
	*dst = v.AsString()
	return nil
}

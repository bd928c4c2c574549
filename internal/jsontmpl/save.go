package jsontmpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/pipegridgo/internal/config"
	"github.com/vk/pipegridgo/internal/ctxlog"
)

// Save writes a model back as a JSON template document, preserving node and
// input order. The output round-trips through Load.
func (l *Loader) Save(ctx context.Context, model *config.Model, path string) error {
	logger := ctxlog.FromContext(ctx)

	var buf bytes.Buffer
	buf.WriteString("{\n")

	headerJSON, err := json.Marshal(header{
		NodesVersions:  model.NodesVersions,
		ReleaseVersion: model.ReleaseVersion,
		FileVersion:    model.FileVersion,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(&buf, "  \"header\": %s,\n", headerJSON)

	buf.WriteString("  \"graph\": {")
	for i, desc := range model.Nodes {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
		if err := writeNode(&buf, desc); err != nil {
			return fmt.Errorf("node %q: %w", desc.Name, err)
		}
	}
	if len(model.Nodes) > 0 {
		buf.WriteString("\n  ")
	}
	buf.WriteString("}\n}\n")

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	logger.Debug("JSON template saved.", "path", path, "node_count", len(model.Nodes))
	return nil
}

func writeNode(buf *bytes.Buffer, desc *config.NodeDesc) error {
	nameJSON, _ := json.Marshal(desc.Name)
	typeJSON, _ := json.Marshal(desc.NodeType)
	fmt.Fprintf(buf, "    %s: {\"nodeType\": %s, \"position\": [%d, %d]",
		nameJSON, typeJSON, desc.Position[0], desc.Position[1])

	if err := writeInputs(buf, "inputs", desc.Inputs); err != nil {
		return err
	}
	if err := writeInputs(buf, "internalInputs", desc.InternalInputs); err != nil {
		return err
	}
	buf.WriteString("}")
	return nil
}

func writeInputs(buf *bytes.Buffer, key string, inputs []*config.InputDesc) error {
	if len(inputs) == 0 {
		return nil
	}
	fmt.Fprintf(buf, ", %q: {", key)
	for i, in := range inputs {
		raw, err := ctyjson.Marshal(in.Value, in.Value.Type())
		if err != nil {
			return fmt.Errorf("attribute %q: %w", in.Name, err)
		}
		if i > 0 {
			buf.WriteString(", ")
		}
		nameJSON, _ := json.Marshal(in.Name)
		fmt.Fprintf(buf, "%s: %s", nameJSON, raw)
	}
	buf.WriteString("}")
	return nil
}

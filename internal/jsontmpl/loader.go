// Package jsontmpl loads and saves pipeline templates in the JSON document
// format: a header (node type versions, tool and file versions) and a graph
// object mapping node names to their type, position and inputs.
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

// Loader implements config.Loader and config.Saver for the JSON format.
type Loader struct{}

// NewLoader returns a JSON template loader.
func NewLoader() *Loader { return &Loader{} }

type header struct {
	NodesVersions  map[string]string `json:"nodesVersions"`
	ReleaseVersion string            `json:"releaseVersion"`
	FileVersion    string            `json:"fileVersion"`
}

type nodeDoc struct {
	NodeType       string                     `json:"nodeType"`
	Position       [2]int                     `json:"position"`
	Inputs         json.RawMessage            `json:"inputs"`
	InternalInputs json.RawMessage            `json:"internalInputs"`
}

// Load reads a template document into the format-agnostic model. Node and
// input order follow the document, keeping declaration order stable.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	var doc struct {
		Header header          `json:"header"`
		Graph  json.RawMessage `json:"graph"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}

	model := &config.Model{
		NodesVersions:  doc.Header.NodesVersions,
		ReleaseVersion: doc.Header.ReleaseVersion,
		FileVersion:    doc.Header.FileVersion,
	}
	if model.NodesVersions == nil {
		model.NodesVersions = make(map[string]string)
	}

	graphEntries, err := orderedObject(doc.Graph)
	if err != nil {
		return nil, fmt.Errorf("parsing graph object: %w", err)
	}
	for _, entry := range graphEntries {
		var nd nodeDoc
		if err := json.Unmarshal(entry.raw, &nd); err != nil {
			return nil, fmt.Errorf("parsing node %q: %w", entry.key, err)
		}
		desc := &config.NodeDesc{
			Name:     entry.key,
			NodeType: nd.NodeType,
			Position: nd.Position,
		}
		if desc.Inputs, err = decodeInputs(nd.Inputs); err != nil {
			return nil, fmt.Errorf("node %q inputs: %w", entry.key, err)
		}
		if desc.InternalInputs, err = decodeInputs(nd.InternalInputs); err != nil {
			return nil, fmt.Errorf("node %q internalInputs: %w", entry.key, err)
		}
		model.Nodes = append(model.Nodes, desc)
	}

	logger.Debug("JSON template loaded.", "path", path, "node_count", len(model.Nodes))
	return model, nil
}

// decodeInputs converts one raw inputs object into ordered cty values.
func decodeInputs(raw json.RawMessage) ([]*config.InputDesc, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	entries, err := orderedObject(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*config.InputDesc, 0, len(entries))
	for _, e := range entries {
		t, err := ctyjson.ImpliedType(e.raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", e.key, err)
		}
		v, err := ctyjson.Unmarshal(e.raw, t)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", e.key, err)
		}
		out = append(out, &config.InputDesc{Name: e.key, Value: v})
	}
	return out, nil
}

type objEntry struct {
	key string
	raw json.RawMessage
}

// orderedObject iterates a JSON object's members in document order, which
// encoding/json's map decoding would discard.
func orderedObject(raw json.RawMessage) ([]objEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var out []objEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		out = append(out, objEntry{key: key, raw: val})
	}
	return out, nil
}

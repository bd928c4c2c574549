// Package imagelist provides the ImageListing node type. It scans a folder
// for files with a given extension and publishes the sorted file list, the
// natural seed node of most pipelines.
package imagelist

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/fsutil"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the ImageListing node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(&schema.NodeType{
		Type:    "ImageListing",
		Version: "1.0",
		Doc:     "Lists files under a folder, sorted by path.",
		Attrs: []*attr.Spec{
			{
				Name:         "folder",
				Type:         cty.String,
				Doc:          "Folder to scan.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:         "extension",
				Type:         cty.String,
				Default:      cty.StringVal(""),
				Doc:          "File extension filter. Empty matches every file.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:     "files",
				Type:     cty.List(cty.String),
				Doc:      "Sorted list of matched file paths.",
				IsOutput: true,
				Enabled:  true,
			},
			{
				Name:     "count",
				Type:     cty.Number,
				Doc:      "Number of matched files.",
				IsOutput: true,
				Enabled:  true,
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
	folder := view.Inputs["folder"]
	if folder.IsNull() {
		return fmt.Errorf("folder is required")
	}

	files, err := fsutil.FindFilesByExtension(folder.AsString(), view.Inputs["extension"].AsString())
	if err != nil {
		return fmt.Errorf("scanning folder: %w", err)
	}

	elems := make([]cty.Value, len(files))
	for i, f := range files {
		elems[i] = cty.StringVal(f)
	}
	list := cty.ListValEmpty(cty.String)
	if len(elems) > 0 {
		list = cty.ListVal(elems)
	}

	view.Outputs["files"] = list
	view.Outputs["count"] = cty.NumberIntVal(int64(len(files)))
	return nil
}

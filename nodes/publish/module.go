// Package publish provides the Publish node type, a sink that copies its
// inputs out of the cache into a user-chosen destination folder.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the Publish node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(&schema.NodeType{
		Type:    "Publish",
		Version: "1.0",
		Doc:     "Copies input files into a destination folder.",
		Attrs: []*attr.Spec{
			{
				Name:         "files",
				Type:         cty.List(cty.String),
				Doc:          "Files to publish.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:         "destination",
				Type:         cty.String,
				Doc:          "Destination folder. Created if missing.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:     "published",
				Type:     cty.List(cty.String),
				Doc:      "Paths of the published copies.",
				IsOutput: true,
				Enabled:  true,
			},
		},
		Run: run,
	})
}

func run(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
	dest := view.Inputs["destination"]
	if dest.IsNull() || dest.AsString() == "" {
		return fmt.Errorf("destination is required")
	}
	destDir := dest.AsString()
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	in := view.Inputs["files"]
	if in.IsNull() {
		view.Outputs["published"] = cty.ListValEmpty(cty.String)
		return nil
	}

	var published []cty.Value
	for it := in.ElementIterator(); it.Next(); {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, v := it.Element()
		src := v.AsString()
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("publishing %s: %w", src, err)
		}
		published = append(published, cty.StringVal(dst))
	}

	list := cty.ListValEmpty(cty.String)
	if len(published) > 0 {
		list = cty.ListVal(published)
	}
	view.Outputs["published"] = list
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

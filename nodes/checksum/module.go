// Package checksum provides the Checksum node type, the reference example of
// a range-parallelized computation. The file list is split into chunks and
// each chunk hashes its slice independently, writing a sum file into the
// node's cache folder.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// Register registers the Checksum node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType(&schema.NodeType{
		Type:    "Checksum",
		Version: "1.0",
		Doc:     "Computes a SHA-256 digest for every input file.",
		Attrs: []*attr.Spec{
			{
				Name:         "files",
				Type:         cty.List(cty.String),
				Doc:          "Files to hash.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:         "size",
				Type:         cty.Number,
				Default:      cty.NumberIntVal(0),
				Doc:          "Number of files, normally linked from the upstream listing.",
				Invalidating: true,
				Enabled:      true,
			},
			{
				Name:     "sums_dir",
				Type:     cty.String,
				Doc:      "Folder holding the produced sum files.",
				IsOutput: true,
				Enabled:  true,
			},
		},
		Parallelization: &schema.Parallelization{
			BlockSize: 10,
			SizeAttr:  "size",
		},
		Run: run,
	})
}

func run(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
	var files []string
	if in := view.Inputs["files"]; !in.IsNull() {
		for it := in.ElementIterator(); it.Next(); {
			_, v := it.Element()
			files = append(files, v.AsString())
		}
	}

	start, end := rng.Start, rng.End
	if end > len(files) {
		end = len(files)
	}

	out, err := os.Create(filepath.Join(view.Dir, fmt.Sprintf("sums.%d-%d.txt", rng.Start, rng.End)))
	if err != nil {
		return fmt.Errorf("creating sum file: %w", err)
	}
	defer out.Close()

	for _, path := range files[start:end] {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s  %s\n", sum, path)
	}

	view.Outputs["sums_dir"] = cty.StringVal(view.Dir)
	return out.Sync()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

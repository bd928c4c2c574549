// Package uid computes the deterministic fingerprint that keys a node's
// cache folder.
//
// The fingerprint covers the node type, its version and the resolved values
// of every enabled invalidating attribute, serialized canonically and in
// declaration order. Attributes not marked invalidating never contribute,
// so display-only edits cannot invalidate a cache entry.
package uid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/graph"
)

// UID is the lowercase hex sha256 fingerprint of a node's invalidating inputs.
type UID string

// Short returns the first eight characters, for logs.
func (u UID) Short() string {
	if len(u) < 8 {
		return string(u)
	}
	return string(u[:8])
}

// Dir maps a UID to its cache folder under the given root. The mapping is a
// function of the UID alone, so equal inputs share a folder across graphs.
func Dir(root string, u UID) string {
	return filepath.Join(root, string(u)[:2], string(u))
}

// Compute fingerprints a node. It requires every upstream value reachable
// through the node's links to be resolvable, which the scheduler guarantees
// by walking in topological order.
func Compute(g *graph.Graph, n *graph.Node) (UID, error) {
	h := sha256.New()
	writeField := func(data []byte) {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:])
		h.Write(data)
	}

	writeField([]byte(n.TypeName()))
	writeField([]byte(n.TypeVersion()))

	var walk func(a *attr.Attribute, path string) error
	walk = func(a *attr.Attribute, path string) error {
		spec := a.Spec()
		if spec.IsGroup() {
			for _, m := range spec.Members {
				sub, _ := a.Member(m.Name)
				if err := walk(sub, path+"."+m.Name); err != nil {
					return err
				}
			}
			return nil
		}
		if !spec.Invalidating || !a.Enabled() {
			return nil
		}
		v, err := g.ResolvedValue(n.Name(), path)
		if err != nil {
			return err
		}
		converted, err := convert.Convert(v, spec.Type)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", path, err)
		}
		raw, err := ctyjson.Marshal(converted, spec.Type)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", path, err)
		}
		writeField([]byte(path))
		writeField(raw)
		return nil
	}

	for _, a := range n.Attrs() {
		if err := walk(a, a.Name()); err != nil {
			return "", err
		}
	}

	return UID(hex.EncodeToString(h.Sum(nil))), nil
}

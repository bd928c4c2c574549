package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegridgo/internal/schema"
)

func TestLookup(t *testing.T) {
	r := New()
	r.RegisterType(&schema.NodeType{Type: "Checksum", Version: "1.0"})
	r.RegisterType(&schema.NodeType{Type: "Checksum", Version: "2.0"})

	t.Run("exact version", func(t *testing.T) {
		nt, err := r.Lookup("Checksum", "1.0")
		require.NoError(t, err)
		assert.Equal(t, "1.0", nt.Version)
	})

	t.Run("empty version selects latest", func(t *testing.T) {
		nt, err := r.Lookup("Checksum", "")
		require.NoError(t, err)
		assert.Equal(t, "2.0", nt.Version)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Lookup("Ghost", "")
		assert.ErrorContains(t, err, "unknown node type")
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := r.Lookup("Checksum", "9.9")
		assert.ErrorContains(t, err, "no registered version")
	})
}

func TestRegisterTypePanicsOnDuplicate(t *testing.T) {
	r := New()
	r.RegisterType(&schema.NodeType{Type: "Checksum", Version: "1.0"})
	assert.Panics(t, func() {
		r.RegisterType(&schema.NodeType{Type: "Checksum", Version: "1.0"})
	})
}

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegridgo/internal/worker"
)

func TestParse(t *testing.T) {
	t.Run("positional template path", func(t *testing.T) {
		var out bytes.Buffer
		cfg, exit, err := Parse([]string{"pipeline.json"}, &out)
		require.NoError(t, err)
		require.False(t, exit)
		assert.Equal(t, "pipeline.json", cfg.TemplatePath)
		assert.Equal(t, worker.ModeAll, cfg.Mode)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 8, cfg.MaxParallelChunks)
	})

	t.Run("template flag and shorthand", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"-template", "a.json"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "a.json", cfg.TemplatePath)

		cfg, _, err = Parse([]string{"-t", "b.hcl"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "b.hcl", cfg.TemplatePath)
	})

	t.Run("target and mode", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"-target", "sum_1", "-mode", "to", "p.json"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "sum_1", cfg.Target)
		assert.Equal(t, worker.ModeUpstream, cfg.Mode)
	})

	t.Run("no arguments prints usage and exits cleanly", func(t *testing.T) {
		var out bytes.Buffer
		cfg, exit, err := Parse([]string{}, &out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("compute mode needs no template", func(t *testing.T) {
		var out bytes.Buffer
		cfg, exit, err := Parse([]string{"-compute", "ImageListing"}, &out)
		require.NoError(t, err)
		require.False(t, exit)
		assert.Equal(t, "ImageListing", cfg.ComputeType)
		assert.Empty(t, cfg.TemplatePath)
	})

	errorCases := []struct {
		name string
		args []string
		msg  string
	}{
		{"compute with template", []string{"-compute", "X", "p.json"}, "cannot combine"},
		{"bad mode", []string{"-mode", "sideways", "p.json"}, "invalid mode"},
		{"mode without target", []string{"-mode", "from", "p.json"}, "requires -target"},
		{"bad log format", []string{"-log-format", "yaml", "p.json"}, "invalid log-format"},
		{"bad log level", []string{"-log-level", "verbose", "p.json"}, "invalid log-level"},
		{"zero workers", []string{"-workers", "0", "p.json"}, "workers must be"},
		{"zero chunks", []string{"-max-chunks", "0", "p.json"}, "max-chunks must be"},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			_, _, err := Parse(tc.args, &out)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.msg)
		})
	}
}

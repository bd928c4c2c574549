package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegridgo/internal/worker"
)

// writePipeline lays out a source folder with images and a template that
// lists, checksums and publishes them.
func writePipeline(t *testing.T) (templatePath, destDir string) {
	t.Helper()
	root := t.TempDir()

	imgDir := filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	for _, name := range []string{"one.jpg", "two.jpg", "skip.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(imgDir, name), []byte(name), 0o644))
	}
	destDir = filepath.Join(root, "published")

	imgJSON, _ := json.Marshal(imgDir)
	destJSON, _ := json.Marshal(destDir)
	template := fmt.Sprintf(`{
  "header": {"fileVersion": "1.0"},
  "graph": {
    "list_1": {
      "nodeType": "ImageListing",
      "inputs": {"folder": %s, "extension": ".jpg"}
    },
    "sum_1": {
      "nodeType": "Checksum",
      "inputs": {"files": "{list_1.files}", "size": "{list_1.count}"}
    },
    "pub_1": {
      "nodeType": "Publish",
      "inputs": {"files": "{list_1.files}", "destination": %s}
    }
  }
}`, imgJSON, destJSON)

	templatePath = filepath.Join(root, "pipeline.json")
	require.NoError(t, os.WriteFile(templatePath, []byte(template), 0o644))
	return templatePath, destDir
}

func testConfig(templatePath, cacheDir string) *Config {
	return &Config{
		TemplatePath:      templatePath,
		Mode:              worker.ModeAll,
		CacheDir:          cacheDir,
		LogFormat:         "text",
		LogLevel:          "debug",
		Workers:           2,
		MaxParallelChunks: 4,
	}
}

func TestAppRunEndToEnd(t *testing.T) {
	templatePath, destDir := writePipeline(t)
	cacheDir := t.TempDir()

	var out bytes.Buffer
	a := NewApp(&out, testConfig(templatePath, cacheDir))
	require.NoError(t, a.Run(context.Background()), "log output:\n%s", out.String())

	// The publish sink ran: both images, and only the images, were copied.
	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.ElementsMatch(t, []string{"one.jpg", "two.jpg"}, names)

	t.Run("second run is fully cached", func(t *testing.T) {
		var out2 bytes.Buffer
		a2 := NewApp(&out2, testConfig(templatePath, cacheDir))
		require.NoError(t, a2.Run(context.Background()))
		assert.Contains(t, out2.String(), "Cache hit")
		assert.NotContains(t, out2.String(), "Node computed")
	})
}

func TestAppComputeStandalone(t *testing.T) {
	cfg := testConfig("", t.TempDir())
	cfg.ComputeType = "ImageListing"

	var out bytes.Buffer
	a := NewApp(&out, cfg)
	// The standalone listing has no folder input; the payload reports it.
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "folder is required")
}

func TestAppRejectsUnknownExtension(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "pipeline.toml"), t.TempDir())
	var out bytes.Buffer
	err := NewApp(&out, cfg).Run(context.Background())
	assert.ErrorContains(t, err, "unsupported template extension")
}

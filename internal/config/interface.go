package config

import "context"

// Loader is the interface for a format-specific template loader.
type Loader interface {
	// Load reads a template file and translates it into the
	// format-agnostic model.
	Load(ctx context.Context, path string) (*Model, error)
}

// Saver is implemented by formats that can write a model back to disk.
type Saver interface {
	Save(ctx context.Context, model *Model, path string) error
}

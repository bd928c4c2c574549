// Package app wires the engine together: it owns the application lifecycle,
// from configuration and logger setup through graph construction to the
// build run itself.
package app

import (
	"io"
	"log/slog"

	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/worker"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	TemplatePath      string
	Target            string
	Mode              worker.Mode
	CacheDir          string
	ComputeType       string
	LogFormat         string
	LogLevel          string
	Workers           int
	MaxParallelChunks int
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	config   *Config
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
func NewApp(outW io.Writer, config *Config, modules ...registry.Module) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All node type modules registered.", "count", len(modules), "types", reg.Types())

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   config,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

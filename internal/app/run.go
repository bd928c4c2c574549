package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/pipegridgo/internal/cache"
	"github.com/vk/pipegridgo/internal/config"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/graph"
	"github.com/vk/pipegridgo/internal/hcltmpl"
	"github.com/vk/pipegridgo/internal/jsontmpl"
	"github.com/vk/pipegridgo/internal/localrunner"
	"github.com/vk/pipegridgo/internal/worker"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	model, target, err := a.loadModel(ctx)
	if err != nil {
		return err
	}

	a.logger.Debug("Building dependency graph from config model...")
	g, err := graph.Build(ctx, model, a.registry)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.logger.Debug("Dependency graph built.", "node_count", g.Len())

	if g.Len() == 0 {
		a.logger.Warn("No nodes found in graph, nothing to build.")
		return nil
	}

	store, err := cache.NewStore(a.config.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	a.logger.Debug("Cache store opened.", "root", store.Root(), "session", store.SessionID())

	run := localrunner.New(store, a.registry)
	w := worker.New(g, a.registry, store, run,
		worker.WithWorkers(a.config.Workers),
		worker.WithMaxParallelChunks(a.config.MaxParallelChunks),
	)

	req := worker.Request{Target: target, Mode: a.mode(target)}
	a.logger.Debug("Submitting build request.", "target", req.Target, "mode", req.Mode.String())
	report, buildErr := w.Build(ctx, req)
	a.printReport(report)
	return buildErr
}

// loadModel produces the config model and the build target, either from the
// template file or as a synthetic one-node graph for -compute.
func (a *App) loadModel(ctx context.Context) (*config.Model, string, error) {
	if a.config.ComputeType != "" {
		name := a.config.ComputeType + "_1"
		a.logger.Debug("Creating standalone node.", "node_type", a.config.ComputeType, "name", name)
		model := &config.Model{
			Nodes: []*config.NodeDesc{{Name: name, NodeType: a.config.ComputeType}},
		}
		return model, name, nil
	}

	loader, err := loaderFor(a.config.TemplatePath)
	if err != nil {
		return nil, "", err
	}
	model, err := loader.Load(ctx, a.config.TemplatePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load template: %w", err)
	}
	a.logger.Debug("Template loaded into unified model.", "nodes", len(model.Nodes))
	return model, a.config.Target, nil
}

func (a *App) mode(target string) worker.Mode {
	if a.config.ComputeType != "" {
		return worker.ModeNode
	}
	if target == "" {
		return worker.ModeAll
	}
	return a.config.Mode
}

// loaderFor selects the template front end by file extension.
func loaderFor(path string) (config.Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return hcltmpl.NewLoader(), nil
	case ".json", ".pg":
		return jsontmpl.NewLoader(), nil
	default:
		return nil, fmt.Errorf("unsupported template extension %q", filepath.Ext(path))
	}
}

func (a *App) printReport(report *worker.Report) {
	if report == nil {
		return
	}
	a.logger.Info("Build report.",
		"succeeded", len(report.Succeeded),
		"cached", len(report.Cached),
		"failed", len(report.Failed),
		"blocked", len(report.Blocked),
		"stopped", len(report.Stopped),
	)
	for _, name := range report.Failed {
		a.logger.Error("Node failed.", "node", name)
	}
	for _, name := range report.Blocked {
		a.logger.Warn("Node blocked by upstream failure.", "node", name)
	}
}

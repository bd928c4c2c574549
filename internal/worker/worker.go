package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/pipegridgo/internal/cache"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/graph"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/runner"
)

// Worker schedules builds over a graph. It owns no global state; a context
// and a request are threaded through every operation.
type Worker struct {
	graph *graph.Graph
	reg   *registry.Registry
	store *cache.Store
	run   runner.Runner

	numWorkers        int
	maxParallelChunks int
	pollInterval      time.Duration
	stopGrace         time.Duration
}

// Option customizes a Worker.
type Option func(*Worker)

// WithWorkers bounds how many nodes may be in flight at once.
func WithWorkers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.numWorkers = n
		}
	}
}

// WithMaxParallelChunks bounds how many chunks may run at once, across all
// in-flight nodes.
func WithMaxParallelChunks(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxParallelChunks = n
		}
	}
}

// WithPollInterval sets the fallback polling cadence for chunk status.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// New creates a Worker over the given collaborators.
func New(g *graph.Graph, reg *registry.Registry, store *cache.Store, run runner.Runner, opts ...Option) *Worker {
	w := &Worker{
		graph:             g,
		reg:               reg,
		store:             store,
		run:               run,
		numWorkers:        4,
		maxParallelChunks: 8,
		pollInterval:      50 * time.Millisecond,
		stopGrace:         5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// execNode is the per-build bookkeeping for one scheduled node.
type execNode struct {
	name     string
	node     *graph.Node
	depCount atomic.Int32
	skipOnce sync.Once

	mu      sync.Mutex
	outcome outcome
	err     error
}

func (en *execNode) setOutcome(o outcome, err error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.outcome = o
	en.err = err
}

func (en *execNode) getOutcome() (outcome, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.outcome, en.err
}

// run is the per-build execution state.
type run struct {
	w         *Worker
	nodes     map[string]*execNode
	order     []string
	readyChan chan *execNode
	chunkSem  chan struct{}
	watcher   *cache.Watcher
	wg        sync.WaitGroup
}

// Build computes the closure selected by the request and drives every node
// in it to a terminal disposition. The returned Report is non-nil whenever
// the closure was valid, even if nodes failed.
func (w *Worker) Build(ctx context.Context, req Request) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	topo, err := w.graph.TopoSort()
	if err != nil {
		return nil, err
	}

	closure, err := w.closure(req, topo)
	if err != nil {
		return nil, err
	}
	logger.Debug("Build: closure computed.", "mode", req.Mode.String(), "target", req.Target, "node_count", len(closure))

	r := &run{
		w:         w,
		nodes:     make(map[string]*execNode, len(closure)),
		readyChan: make(chan *execNode, len(closure)),
		chunkSem:  make(chan struct{}, w.maxParallelChunks),
	}
	inClosure := make(map[string]bool, len(closure))
	for _, name := range closure {
		inClosure[name] = true
	}
	for _, name := range topo {
		if !inClosure[name] {
			continue
		}
		n, _ := w.graph.Node(name)
		en := &execNode{name: name, node: n}
		var deps int32
		for _, dep := range w.graph.Dependencies(name) {
			if inClosure[dep] {
				deps++
			}
		}
		en.depCount.Store(deps)
		r.nodes[name] = en
		r.order = append(r.order, name)
	}

	watcher, err := cache.NewWatcher()
	if err != nil {
		logger.Warn("Cache watcher unavailable, falling back to polling only.", "error", err)
	} else {
		r.watcher = watcher
		defer watcher.Close()
	}

	rootCount := 0
	for _, name := range r.order {
		en := r.nodes[name]
		if en.depCount.Load() == 0 {
			r.readyChan <- en
			rootCount++
		}
	}
	logger.Debug("Build: found root nodes.", "count", rootCount)

	r.wg.Add(len(r.order))
	logger.Info("🚀 Starting build.", "nodes", len(r.order), "workers", w.numWorkers)
	for i := 0; i < w.numWorkers; i++ {
		go r.worker(ctx, i)
	}

	r.wg.Wait()
	close(r.readyChan)
	logger.Info("🏁 Build finished.")

	report := r.report()
	return report, w.buildError(ctx, r, report)
}

// closure selects the node set a request covers, in topological order.
func (w *Worker) closure(req Request, topo []string) ([]string, error) {
	if req.Mode == ModeAll {
		return topo, nil
	}
	if _, ok := w.graph.Node(req.Target); !ok {
		return nil, fmt.Errorf("no node named %q", req.Target)
	}

	selected := map[string]bool{req.Target: true}
	switch req.Mode {
	case ModeUpstream:
		for _, name := range w.graph.Ancestors(req.Target) {
			selected[name] = true
		}
	case ModeDownstream:
		for _, name := range w.graph.Descendants(req.Target) {
			selected[name] = true
		}
	}

	var out []string
	for _, name := range topo {
		if selected[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// worker is the processing loop for one concurrent slot of the pool.
func (r *run) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Worker started.")

	for en := range r.readyChan {
		nodeLogger := logger.With("node", en.name)

		if ctx.Err() != nil {
			en.skipOnce.Do(func() {
				nodeLogger.Warn("Build cancelled before node was dispatched.")
				en.setOutcome(outcomeStopped, ctx.Err())
				r.wg.Done()
			})
			r.skipDependents(ctx, en)
			continue
		}

		nodeLogger.Debug("Worker picked up node.")
		cached, err := r.processNode(ctx, en)

		switch {
		case err == nil && cached:
			nodeLogger.Info("⏭️ Cache hit, node skipped.")
			en.setOutcome(outcomeCached, nil)
		case err == nil:
			nodeLogger.Info("✅ Node computed.")
			en.setOutcome(outcomeSucceeded, nil)
		default:
			if en.node.Status() == chunk.StatusStopped || ctx.Err() != nil {
				nodeLogger.Warn("Node stopped.", "error", err)
				en.setOutcome(outcomeStopped, err)
			} else {
				nodeLogger.Error("Node failed.", "error", err)
				en.setOutcome(outcomeFailed, err)
			}
			r.skipDependents(ctx, en)
			r.wg.Done()
			continue
		}

		for _, depName := range r.w.graph.Dependents(en.name) {
			dependent, ok := r.nodes[depName]
			if !ok {
				continue
			}
			if dependent.depCount.Add(-1) == 0 {
				nodeLogger.Debug("Unlocking dependent node.", "dependent", depName)
				r.readyChan <- dependent
			}
		}
		r.wg.Done()
	}
	logger.Debug("Worker finished.")
}

// skipDependents transitively marks every downstream node in the closure as
// blocked. Blocked nodes are never dispatched and keep status NONE.
func (r *run) skipDependents(ctx context.Context, en *execNode) {
	logger := ctxlog.FromContext(ctx)
	for _, depName := range r.w.graph.Dependents(en.name) {
		dependent, ok := r.nodes[depName]
		if !ok {
			continue
		}
		dependent.skipOnce.Do(func() {
			logger.Warn("Blocking node due to upstream failure.", "node", depName, "upstream", en.name)
			dependent.setOutcome(outcomeBlocked, fmt.Errorf("blocked by upstream failure of %q", en.name))
			r.wg.Done()
			r.skipDependents(ctx, dependent)
		})
	}
}

// report assembles the build report in topological order.
func (r *run) report() *Report {
	rep := &Report{}
	for _, name := range r.order {
		o, _ := r.nodes[name].getOutcome()
		switch o {
		case outcomeSucceeded:
			rep.Succeeded = append(rep.Succeeded, name)
		case outcomeCached:
			rep.Cached = append(rep.Cached, name)
		case outcomeFailed:
			rep.Failed = append(rep.Failed, name)
		case outcomeBlocked:
			rep.Blocked = append(rep.Blocked, name)
		case outcomeStopped:
			rep.Stopped = append(rep.Stopped, name)
		}
	}
	return rep
}

// buildError reduces a finished run to the error Build returns.
func (w *Worker) buildError(ctx context.Context, r *run, rep *Report) error {
	if len(rep.Failed) > 0 {
		var rootCause error
		for _, name := range rep.Failed {
			if _, err := r.nodes[name].getOutcome(); err != nil && rootCause == nil {
				rootCause = err
			}
		}
		return fmt.Errorf("build failed for %s: %w", strings.Join(rep.Failed, ", "), rootCause)
	}
	if len(rep.Stopped) > 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("build cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("build stopped for %s", strings.Join(rep.Stopped, ", "))
	}
	return nil
}

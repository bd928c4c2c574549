package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/pipegridgo/internal/cache"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/graph"
	"github.com/vk/pipegridgo/internal/runner"
	"github.com/vk/pipegridgo/internal/schema"
	"github.com/vk/pipegridgo/internal/uid"
)

// processNode drives one node to a terminal aggregate status. It returns
// cached=true when the node was skipped as a cache hit.
func (r *run) processNode(ctx context.Context, en *execNode) (cached bool, err error) {
	logger := ctxlog.FromContext(ctx).With("node", en.name)
	n := en.node

	// Topological order guarantees every ancestor value is final here, so
	// the UID is stable for the rest of the build.
	u, err := uid.Compute(r.w.graph, n)
	if err != nil {
		return false, fmt.Errorf("computing uid: %w", err)
	}
	logger.Debug("Node fingerprinted.", "uid", u.Short())

	chunks, err := r.chunkList(n)
	if err != nil {
		return false, err
	}
	n.SetChunks(chunks)

	// Reclaim records abandoned by a dead process before trusting them.
	if err := r.w.store.Reconcile(ctx, u, len(chunks)); err != nil {
		return false, err
	}

	// Cache hit: a finalized manifest for this UID with a matching chunk
	// count means the required output already exists.
	if m, ok := r.w.store.ReadManifest(ctx, u); ok && m.ChunkCount == len(chunks) {
		statuses := r.w.store.ReadStatuses(ctx, u, len(chunks))
		if chunk.Computed(statuses) {
			for _, c := range chunks {
				c.Restore(chunk.StatusSuccess)
			}
			if err := r.applyManifestOutputs(ctx, n, m); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// Chunk-level resume: chunks recorded SUCCESS for this UID are not
	// re-dispatched; everything else gets a fresh attempt.
	persisted := r.w.store.ReadStatuses(ctx, u, len(chunks))
	var pending []*chunk.Chunk
	for i, c := range chunks {
		if persisted[i] == chunk.StatusSuccess {
			c.Restore(chunk.StatusSuccess)
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) < len(chunks) {
		logger.Info("Resuming partially finished node.", "done", len(chunks)-len(pending), "total", len(chunks))
	}

	dir, err := r.w.store.EnsureDir(u)
	if err != nil {
		return false, err
	}
	if r.watcher != nil {
		if err := r.watcher.Add(dir); err != nil {
			logger.Debug("Could not watch cache folder.", "dir", dir, "error", err)
		}
	}

	tasks, dispatchErr := r.dispatch(ctx, en, u, dir, pending)
	// Even when dispatch fails partway, already-submitted chunks must be
	// observed to a terminal status so the semaphore drains.
	if err := r.await(ctx, en, tasks); err != nil {
		return false, err
	}
	if dispatchErr != nil {
		return false, dispatchErr
	}

	switch n.Status() {
	case chunk.StatusSuccess:
		return false, r.finalize(ctx, en, u, tasks)
	case chunk.StatusStopped:
		return false, fmt.Errorf("node %q stopped", en.name)
	default:
		return false, r.failure(en, tasks)
	}
}

// chunkList asks the node type for its splitting policy. The iteration size
// may depend on resolved inputs, so this runs at dispatch time, never at
// load time.
func (r *run) chunkList(n *graph.Node) ([]*chunk.Chunk, error) {
	par := n.Type().Parallelization
	if par == nil {
		return []*chunk.Chunk{chunk.New(0, chunk.FullRange)}, nil
	}

	sizeVal, err := r.w.graph.ResolvedValue(n.Name(), par.SizeAttr)
	if err != nil {
		return nil, fmt.Errorf("resolving split size: %w", err)
	}
	if sizeVal.IsNull() || sizeVal.Type() != cty.Number {
		return nil, fmt.Errorf("split size attribute %q of node %q is not a known number", par.SizeAttr, n.Name())
	}
	size, _ := sizeVal.AsBigFloat().Int64()
	if size <= 0 {
		return []*chunk.Chunk{chunk.New(0, chunk.FullRange)}, nil
	}

	ranges := chunk.Split(int(size), par.BlockSize)
	chunks := make([]*chunk.Chunk, len(ranges))
	for i, rng := range ranges {
		chunks[i] = chunk.New(i, rng)
	}
	return chunks, nil
}

// newView snapshots the node's resolved, enabled inputs for one chunk.
func (r *run) newView(n *graph.Node, dir string) (*schema.NodeView, error) {
	inputs := make(map[string]cty.Value)
	for _, a := range n.Attrs() {
		spec := a.Spec()
		if spec.IsOutput || !a.Enabled() {
			continue
		}
		v, err := r.w.graph.ResolvedValue(n.Name(), spec.Name)
		if err != nil {
			return nil, err
		}
		inputs[spec.Name] = v
	}
	return &schema.NodeView{
		Name:     n.Name(),
		NodeType: n.TypeName(),
		Version:  n.TypeVersion(),
		Inputs:   inputs,
		Dir:      dir,
		Outputs:  make(map[string]cty.Value),
	}, nil
}

// dispatch submits every pending chunk, bounded by the shared chunk
// semaphore, transitioning each to SUBMITTED as it is acknowledged.
func (r *run) dispatch(ctx context.Context, en *execNode, u uid.UID, dir string, pending []*chunk.Chunk) ([]*runner.Task, error) {
	logger := ctxlog.FromContext(ctx).With("node", en.name)
	n := en.node

	var tasks []*runner.Task
	for _, c := range pending {
		select {
		case r.chunkSem <- struct{}{}:
		case <-ctx.Done():
			return tasks, nil
		}

		view, err := r.newView(n, dir)
		if err != nil {
			<-r.chunkSem
			return tasks, err
		}
		t := &runner.Task{
			Node:     en.name,
			NodeType: n.TypeName(),
			Version:  n.TypeVersion(),
			UID:      u,
			Dir:      dir,
			Chunk:    c,
			View:     view,
		}

		logger.Debug("▶️ Dispatching chunk.", "chunk", c.Index, "range", c.Range)
		if err := r.w.run.Submit(ctx, t); err != nil {
			<-r.chunkSem
			return tasks, fmt.Errorf("submitting chunk %d: %w", c.Index, err)
		}
		if err := c.Transition(chunk.StatusSubmitted); err != nil {
			<-r.chunkSem
			return tasks, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// await blocks until every dispatched chunk reaches a terminal status,
// observing progress through the cache watcher and a polling ticker. On
// cancellation it asks the collaborator to stop and keeps observing until
// acknowledgement or the stop grace expires.
func (r *run) await(ctx context.Context, en *execNode, tasks []*runner.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	logger := ctxlog.FromContext(ctx).With("node", en.name)

	ticker := time.NewTicker(r.w.pollInterval)
	defer ticker.Stop()

	var changes <-chan string
	if r.watcher != nil {
		changes = r.watcher.Changes()
	}

	stopping := false
	var stopDeadline <-chan time.Time
	ctxDone := ctx.Done()

	for {
		done := true
		for _, t := range tasks {
			if t.Chunk.Status.IsTerminal() {
				continue
			}
			observed, err := r.w.run.Poll(context.WithoutCancel(ctx), t)
			if err != nil {
				logger.Warn("Polling chunk status failed.", "chunk", t.Chunk.Index, "error", err)
				done = false
				continue
			}
			if observed != t.Chunk.Status && observed != chunk.StatusNone {
				if err := t.Chunk.Advance(observed); err != nil {
					return err
				}
				if t.Chunk.Status.IsTerminal() {
					logger.Debug("Chunk reached terminal status.", "chunk", t.Chunk.Index, "status", t.Chunk.Status)
					<-r.chunkSem
				}
			}
			if !t.Chunk.Status.IsTerminal() {
				done = false
			}
		}
		if done {
			return nil
		}

		if ctx.Err() != nil && !stopping {
			stopping = true
			stopDeadline = time.After(r.w.stopGrace)
			ctxDone = nil
			logger.Warn("Cancellation requested, stopping in-flight chunks.")
			for _, t := range tasks {
				if !t.Chunk.Status.IsTerminal() {
					if err := r.w.run.Stop(context.WithoutCancel(ctx), t); err != nil {
						logger.Warn("Stop request failed.", "chunk", t.Chunk.Index, "error", err)
					}
				}
			}
		}

		select {
		case <-ticker.C:
		case <-changes:
		case <-stopDeadline:
			// The collaborator did not acknowledge in time; record the
			// stop ourselves so the persisted state is unambiguous.
			for _, t := range tasks {
				if t.Chunk.Status.IsTerminal() {
					continue
				}
				if err := t.Chunk.Advance(chunk.StatusStopped); err != nil {
					return err
				}
				rec := r.w.store.NewRecord(t.UID, t.Node, t.NodeType, t.Chunk)
				if err := r.w.store.WriteRecord(t.UID, rec); err != nil {
					logger.Error("Failed to persist STOPPED record.", "chunk", t.Chunk.Index, "error", err)
				}
				<-r.chunkSem
			}
			return nil
		case <-ctxDone:
			// Loop once more; the stopping branch above takes over.
		}
	}
}

// finalize merges chunk outputs into the graph and writes the manifest that
// makes the next build cache-hit.
func (r *run) finalize(ctx context.Context, en *execNode, u uid.UID, tasks []*runner.Task) error {
	logger := ctxlog.FromContext(ctx).With("node", en.name)
	n := en.node

	outputs := make(map[string]cty.Value)
	for _, t := range tasks {
		for name, v := range t.View.Outputs {
			outputs[name] = v
		}
	}

	rawOutputs := make(map[string]json.RawMessage, len(outputs))
	for name, v := range outputs {
		spec, ok := n.Type().Attr(name)
		if !ok || !spec.IsOutput {
			logger.Warn("Compute produced a value for an undeclared output, ignoring.", "attr", name)
			continue
		}
		if err := r.w.graph.SetOutputValue(en.name, name, v); err != nil {
			return fmt.Errorf("recording output %q: %w", name, err)
		}
		raw, err := ctyjson.Marshal(v, spec.Type)
		if err != nil {
			return fmt.Errorf("serializing output %q: %w", name, err)
		}
		rawOutputs[name] = raw
	}

	m := &cache.Manifest{
		UID:         string(u),
		Node:        en.name,
		NodeType:    n.TypeName(),
		Version:     n.TypeVersion(),
		ChunkCount:  len(n.Chunks()),
		Outputs:     rawOutputs,
		CompletedAt: time.Now(),
	}
	return r.w.store.WriteManifest(u, m)
}

// applyManifestOutputs restores a cache-hit node's output values from its
// manifest so downstream resolution sees them.
func (r *run) applyManifestOutputs(ctx context.Context, n *graph.Node, m *cache.Manifest) error {
	logger := ctxlog.FromContext(ctx).With("node", n.Name())
	for name, raw := range m.Outputs {
		spec, ok := n.Type().Attr(name)
		if !ok || !spec.IsOutput {
			logger.Warn("Manifest names an undeclared output, ignoring.", "attr", name)
			continue
		}
		v, err := ctyjson.Unmarshal(raw, spec.Type)
		if err != nil {
			return fmt.Errorf("decoding cached output %q: %w", name, err)
		}
		if err := r.w.graph.SetOutputValue(n.Name(), name, v); err != nil {
			return err
		}
	}
	return nil
}

// failure reduces a node whose aggregate is ERROR to the error reported to
// the caller, surfacing the collaborator's opaque payload when available.
func (r *run) failure(en *execNode, tasks []*runner.Task) error {
	type errSource interface {
		LastError(*runner.Task) error
	}
	for _, t := range tasks {
		if t.Chunk.Status != chunk.StatusError {
			continue
		}
		if src, ok := r.w.run.(errSource); ok {
			if err := src.LastError(t); err != nil {
				return err
			}
		}
		return &runner.ComputeError{Node: en.name, Chunk: t.Chunk.Index, Err: fmt.Errorf("chunk recorded ERROR")}
	}
	return fmt.Errorf("node %q failed", en.name)
}

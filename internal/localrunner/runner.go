// Package localrunner provides the in-process implementation of the
// runner.Runner interface. Each submission executes the node type's
// registered compute payload on its own goroutine, driving the persisted
// status record through SUBMITTED, RUNNING and a terminal state exactly as
// an out-of-process collaborator would.
package localrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/vk/pipegridgo/internal/cache"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/runner"
)

// Runner executes chunks in-process.
type Runner struct {
	store *cache.Store
	reg   *registry.Registry

	mu    sync.Mutex
	tasks map[string]*submission
}

type submission struct {
	cancel context.CancelFunc
	status chunk.Status
	err    error

	// snap is this runner's private copy of the submitted chunk. The
	// scheduler keeps mutating its own chunk while polling, so persisted
	// records are always built from the snapshot, never from the task.
	snap chunk.Chunk
}

// New creates a local runner writing status records through the given store.
func New(store *cache.Store, reg *registry.Registry) *Runner {
	return &Runner{
		store: store,
		reg:   reg,
		tasks: make(map[string]*submission),
	}
}

// Submit acknowledges the chunk, persists SUBMITTED and starts execution on
// a goroutine.
func (r *Runner) Submit(ctx context.Context, t *runner.Task) error {
	nt, err := r.reg.Lookup(t.NodeType, t.Version)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &submission{cancel: cancel, status: chunk.StatusSubmitted, snap: *t.Chunk}
	sub.snap.Status = chunk.StatusSubmitted
	rng := sub.snap.Range
	idx := sub.snap.Index

	r.mu.Lock()
	r.tasks[t.Key()] = sub
	r.mu.Unlock()

	if err := r.persist(t, chunk.StatusSubmitted); err != nil {
		cancel()
		return err
	}

	logger := ctxlog.FromContext(ctx).With("node", t.Node, "chunk", idx)
	go func() {
		defer cancel()

		r.setStatus(t, chunk.StatusRunning, nil)
		if err := r.persist(t, chunk.StatusRunning); err != nil {
			logger.Error("Failed to persist RUNNING record.", "error", err)
		}

		startedAt := time.Now()
		runErr := nt.Run(runCtx, t.View, rng)
		r.recordStatistics(logger, t, idx, startedAt)

		switch {
		case runCtx.Err() != nil:
			r.setStatus(t, chunk.StatusStopped, runCtx.Err())
			if err := r.persist(t, chunk.StatusStopped); err != nil {
				logger.Error("Failed to persist STOPPED record.", "error", err)
			}
		case runErr != nil:
			compErr := &runner.ComputeError{Node: t.Node, Chunk: idx, Err: runErr}
			r.setStatus(t, chunk.StatusError, compErr)
			if err := r.persist(t, chunk.StatusError); err != nil {
				logger.Error("Failed to persist ERROR record.", "error", err)
			}
		default:
			r.setStatus(t, chunk.StatusSuccess, nil)
			if err := r.persist(t, chunk.StatusSuccess); err != nil {
				logger.Error("Failed to persist SUCCESS record.", "error", err)
			}
		}
	}()

	return nil
}

// Poll reports the submission's status. Submissions unknown to this process
// fall back to the persisted record, so a restarted scheduler can observe
// work it did not submit itself.
func (r *Runner) Poll(ctx context.Context, t *runner.Task) (chunk.Status, error) {
	r.mu.Lock()
	if sub, ok := r.tasks[t.Key()]; ok {
		s := sub.status
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	rec, found, err := r.store.ReadRecord(t.UID, t.Chunk.Index)
	if err != nil {
		var corrupt *cache.CorruptRecordError
		if errors.As(err, &corrupt) {
			return chunk.StatusNone, nil
		}
		return chunk.StatusNone, err
	}
	if !found {
		return chunk.StatusNone, nil
	}
	return rec.Status, nil
}

// Stop cancels a running submission. Chunks that already reached a terminal
// status are untouched.
func (r *Runner) Stop(ctx context.Context, t *runner.Task) error {
	r.mu.Lock()
	sub, ok := r.tasks[t.Key()]
	terminal := ok && sub.status.IsTerminal()
	r.mu.Unlock()
	if !ok || terminal {
		return nil
	}
	sub.cancel()
	return nil
}

// LastError returns the failure payload for a chunk this runner executed.
func (r *Runner) LastError(t *runner.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.tasks[t.Key()]; ok {
		return sub.err
	}
	return nil
}

func (r *Runner) setStatus(t *runner.Task, s chunk.Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.tasks[t.Key()]; ok {
		// Terminal statuses are never overwritten; Stop may race completion.
		if sub.status.IsTerminal() {
			return
		}
		sub.status = s
		sub.err = err
	}
}

// recordStatistics writes the chunk's execution profile next to its status
// record. Statistics are informational, so failures only log.
func (r *Runner) recordStatistics(logger *slog.Logger, t *runner.Task, index int, startedAt time.Time) {
	ended := time.Now()
	host, _ := os.Hostname()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := &cache.Statistics{
		Node:            t.Node,
		NodeType:        t.NodeType,
		ChunkIndex:      index,
		Hostname:        host,
		Cores:           runtime.NumCPU(),
		PID:             os.Getpid(),
		StartedAt:       startedAt,
		EndedAt:         ended,
		DurationSeconds: ended.Sub(startedAt).Seconds(),
		HeapAllocBytes:  ms.HeapAlloc,
	}
	if err := r.store.WriteStatistics(t.UID, st); err != nil {
		logger.Debug("Failed to write chunk statistics.", "error", err)
	}
}

func (r *Runner) persist(t *runner.Task, s chunk.Status) error {
	r.mu.Lock()
	sub, ok := r.tasks[t.Key()]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("no submission for task %q", t.Key())
	}
	sub.snap.Status = s
	switch {
	case s == chunk.StatusRunning:
		sub.snap.StartedAt = time.Now()
	case s.IsTerminal():
		if sub.snap.StartedAt.IsZero() {
			sub.snap.StartedAt = time.Now()
		}
		sub.snap.EndedAt = time.Now()
	}
	snap := sub.snap
	r.mu.Unlock()

	rec := r.store.NewRecord(t.UID, t.Node, t.NodeType, &snap)
	return r.store.WriteRecord(t.UID, rec)
}

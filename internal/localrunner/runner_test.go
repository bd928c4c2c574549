package localrunner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/cache"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/internal/runner"
	"github.com/vk/pipegridgo/internal/schema"
	"github.com/vk/pipegridgo/internal/uid"
)

const testUID = uid.UID("ee1100000000000000000000000000000000000000000000000000000000beef")

func newRunner(t *testing.T, run schema.RunFunc) (*Runner, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	reg := registry.New()
	reg.RegisterType(&schema.NodeType{
		Type:    "Echo",
		Version: "1.0",
		Attrs: []*attr.Spec{
			{Name: "out", Type: cty.String, IsOutput: true, Enabled: true},
		},
		Run: run,
	})
	return New(store, reg), store
}

func newTask() *runner.Task {
	c := chunk.New(0, chunk.FullRange)
	return &runner.Task{
		Node:     "echo_1",
		NodeType: "Echo",
		Version:  "1.0",
		UID:      testUID,
		Chunk:    c,
		View: &schema.NodeView{
			Name:     "echo_1",
			NodeType: "Echo",
			Inputs:   map[string]cty.Value{},
			Outputs:  map[string]cty.Value{},
		},
	}
}

func pollUntilTerminal(t *testing.T, r *Runner, task *runner.Task) chunk.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := r.Poll(context.Background(), task)
		require.NoError(t, err)
		if s.IsTerminal() {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission never reached a terminal status")
	return chunk.StatusNone
}

func TestSubmitSuccess(t *testing.T) {
	r, store := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		view.Outputs["out"] = cty.StringVal("done")
		return nil
	})
	task := newTask()

	require.NoError(t, r.Submit(context.Background(), task))
	assert.Equal(t, chunk.StatusSuccess, pollUntilTerminal(t, r, task))
	assert.Equal(t, cty.StringVal("done"), task.View.Outputs["out"])

	// The terminal record is persisted with timestamps.
	rec, ok, err := store.ReadRecord(testUID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chunk.StatusSuccess, rec.Status)
	assert.False(t, rec.EndedAt.IsZero())
}

func TestSubmitFailure(t *testing.T) {
	boom := errors.New("boom")
	r, store := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		return boom
	})
	task := newTask()

	require.NoError(t, r.Submit(context.Background(), task))
	assert.Equal(t, chunk.StatusError, pollUntilTerminal(t, r, task))

	var compErr *runner.ComputeError
	require.ErrorAs(t, r.LastError(task), &compErr)
	assert.Equal(t, "echo_1", compErr.Node)
	assert.ErrorIs(t, compErr, boom)

	rec, _, err := store.ReadRecord(testUID, 0)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusError, rec.Status)
}

func TestStop(t *testing.T) {
	started := make(chan struct{})
	r, store := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	task := newTask()

	require.NoError(t, r.Submit(context.Background(), task))
	<-started
	require.NoError(t, r.Stop(context.Background(), task))

	assert.Equal(t, chunk.StatusStopped, pollUntilTerminal(t, r, task))
	rec, _, err := store.ReadRecord(testUID, 0)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusStopped, rec.Status)
}

func TestStopAfterTerminalIsNoop(t *testing.T) {
	r, _ := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		return nil
	})
	task := newTask()

	require.NoError(t, r.Submit(context.Background(), task))
	require.Equal(t, chunk.StatusSuccess, pollUntilTerminal(t, r, task))

	require.NoError(t, r.Stop(context.Background(), task))
	s, err := r.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusSuccess, s)
}

func TestPollFallsBackToRecord(t *testing.T) {
	r, store := newRunner(t, nil)

	// Simulate a record written by an earlier process.
	c := chunk.New(0, chunk.FullRange)
	require.NoError(t, c.Advance(chunk.StatusSuccess))
	require.NoError(t, store.WriteRecord(testUID, store.NewRecord(testUID, "echo_1", "Echo", c)))

	s, err := r.Poll(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusSuccess, s)
}

func TestPollUnknownTaskIsNone(t *testing.T) {
	r, _ := newRunner(t, nil)
	s, err := r.Poll(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, chunk.StatusNone, s)
}

func TestSubmitUnknownTypeFails(t *testing.T) {
	r, _ := newRunner(t, nil)
	task := newTask()
	task.NodeType = "Ghost"
	assert.Error(t, r.Submit(context.Background(), task))
}

func TestSubmitWritesStatistics(t *testing.T) {
	r, store := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		return nil
	})
	task := newTask()

	require.NoError(t, r.Submit(context.Background(), task))
	require.Equal(t, chunk.StatusSuccess, pollUntilTerminal(t, r, task))

	st, ok := store.ReadStatistics(testUID, 0)
	require.True(t, ok)
	assert.Equal(t, "echo_1", st.Node)
	assert.Equal(t, 0, st.ChunkIndex)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Greater(t, st.Cores, 0)
	assert.False(t, st.EndedAt.Before(st.StartedAt))
	assert.GreaterOrEqual(t, st.DurationSeconds, 0.0)
}

func TestPollConcurrentWithCompletion(t *testing.T) {
	// Poll runs on scheduler goroutines while the run goroutine moves the
	// submission through its statuses; both sides must go through the
	// runner's lock.
	release := make(chan struct{})
	r, _ := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		<-release
		return nil
	})
	task := newTask()
	require.NoError(t, r.Submit(context.Background(), task))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := r.Poll(context.Background(), task)
				assert.NoError(t, err)
			}
		}()
	}
	close(release)
	wg.Wait()
	assert.Equal(t, chunk.StatusSuccess, pollUntilTerminal(t, r, task))
}

func TestRunnerKeepsItsOwnChunkState(t *testing.T) {
	// The caller keeps advancing its own chunk bookkeeping from polled
	// statuses while the run goroutine persists records; the records must
	// be built from the runner's snapshot, never from the shared chunk.
	release := make(chan struct{})
	r, store := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		<-release
		return nil
	})
	task := newTask()
	require.NoError(t, r.Submit(context.Background(), task))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !task.Chunk.Status.IsTerminal() {
			s, err := r.Poll(context.Background(), task)
			if err == nil && s != chunk.StatusNone && s != task.Chunk.Status {
				assert.NoError(t, task.Chunk.Advance(s))
			}
			time.Sleep(time.Millisecond)
		}
	}()

	close(release)
	wg.Wait()
	assert.Equal(t, chunk.StatusSuccess, task.Chunk.Status)

	rec, ok, err := store.ReadRecord(testUID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chunk.StatusSuccess, rec.Status)
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.EndedAt.IsZero())
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	done := make(chan struct{})
	r, _ := newRunner(t, func(ctx context.Context, view *schema.NodeView, rng chunk.Range) error {
		defer close(done)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return nil
		}
	})
	task := newTask()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Submit(ctx, task))
	// Cancelling the submission context must not cancel the run; only an
	// explicit Stop does.
	cancel()
	<-done
	assert.Equal(t, chunk.StatusSuccess, pollUntilTerminal(t, r, task))
}

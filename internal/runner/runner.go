// Package runner defines the interface between the scheduler and the
// external compute collaborator that actually executes chunks.
//
// The core never assumes how a submission runs (in-process, a spawned
// process, a render farm): it only submits, polls and stops. Retry policy
// belongs to the collaborator, never to the core.
package runner

import (
	"context"
	"fmt"

	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/schema"
	"github.com/vk/pipegridgo/internal/uid"
)

// Task identifies one chunk submission.
type Task struct {
	Node     string
	NodeType string
	Version  string
	UID      uid.UID

	// Dir is the node's cache folder; the collaborator writes its status
	// records and outputs there.
	Dir string

	Chunk *chunk.Chunk

	// View carries the resolved inputs for in-process execution. Remote
	// collaborators serialize it instead.
	View *schema.NodeView
}

// Key returns a stable identity for the submission.
func (t *Task) Key() string {
	return fmt.Sprintf("%s#%d", t.UID, t.Chunk.Index)
}

// Runner is the uniform interface to a compute collaborator.
type Runner interface {
	// Submit hands a chunk over for execution. It returns once the
	// submission is acknowledged, not once it completes.
	Submit(ctx context.Context, t *Task) error

	// Poll reports the chunk's current status as the collaborator sees it.
	Poll(ctx context.Context, t *Task) (chunk.Status, error)

	// Stop asks the collaborator to cancel a submission. Compliance is
	// cooperative; the caller keeps polling until a terminal status.
	Stop(ctx context.Context, t *Task) error
}

// ComputeError wraps the opaque failure payload raised by a collaborator.
type ComputeError struct {
	Node  string
	Chunk int
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute failed for node %q chunk %d: %v", e.Node, e.Chunk, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

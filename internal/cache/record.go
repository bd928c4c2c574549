// Package cache persists per-chunk status records and node manifests inside
// UID-keyed cache folders. Records are the single source of truth across
// process restarts, so every write is atomic: write to a temp file, sync,
// rename into place, sync the directory.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/pipegridgo/internal/chunk"
)

// StatusRecord is the persisted state of a single chunk.
type StatusRecord struct {
	UID        string       `json:"uid"`
	Node       string       `json:"node"`
	NodeType   string       `json:"nodeType"`
	ChunkIndex int          `json:"chunkIndex"`
	Range      chunk.Range  `json:"range"`
	Status     chunk.Status `json:"status"`
	StartedAt  time.Time    `json:"startedAt,omitempty"`
	EndedAt    time.Time    `json:"endedAt,omitempty"`

	// SessionID and PID identify the process that owns the record while it
	// is non-terminal. Restart reconciliation uses them to detect records
	// abandoned by a dead process.
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
}

// Manifest is written once all chunks of a node have succeeded. Its
// presence is what makes a later build cache-hit without re-reading the
// whole graph.
type Manifest struct {
	UID         string                     `json:"uid"`
	Node        string                     `json:"node"`
	NodeType    string                     `json:"nodeType"`
	Version     string                     `json:"nodeTypeVersion"`
	ChunkCount  int                        `json:"chunkCount"`
	Outputs     map[string]json.RawMessage `json:"outputs,omitempty"`
	CompletedAt time.Time                  `json:"completedAt"`
}

// Statistics captures one chunk's execution profile, written next to its
// status record when the chunk reaches a terminal status. It is purely
// informational; nothing in the build reads it back.
type Statistics struct {
	Node       string `json:"node"`
	NodeType   string `json:"nodeType"`
	ChunkIndex int    `json:"chunkIndex"`

	Hostname string `json:"hostname"`
	Cores    int    `json:"cores"`
	PID      int    `json:"pid"`

	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	HeapAllocBytes  uint64    `json:"heapAllocBytes"`
}

// CorruptRecordError reports a status record that exists but cannot be
// decoded. Callers treat the chunk as NONE (force recompute) rather than
// failing the build.
type CorruptRecordError struct {
	Path string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt status record %s: %v", e.Path, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/uid"
)

const (
	manifestName = "manifest.json"
	// manifestCacheSize bounds the in-memory manifest memo.
	manifestCacheSize = 256
)

// Store manages the cache folder tree rooted at a single directory.
type Store struct {
	root      string
	sessionID string
	pid       int
	manifests *lru.Cache[string, *Manifest]
}

// NewStore opens (creating if needed) a cache root. Each store carries a
// fresh session UUID; records it writes are stamped with it.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	manifests, err := lru.New[string, *Manifest](manifestCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:      root,
		sessionID: uuid.NewString(),
		pid:       os.Getpid(),
		manifests: manifests,
	}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// SessionID returns this store's session identity.
func (s *Store) SessionID() string { return s.sessionID }

// Dir returns the cache folder for a UID without creating it.
func (s *Store) Dir(u uid.UID) string { return uid.Dir(s.root, u) }

// EnsureDir creates the cache folder for a UID lazily, on first submission.
func (s *Store) EnsureDir(u uid.UID) (string, error) {
	dir := s.Dir(u)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache folder: %w", err)
	}
	return dir, nil
}

func (s *Store) recordPath(u uid.UID, index int) string {
	return filepath.Join(s.Dir(u), fmt.Sprintf("status.%d.json", index))
}

// NewRecord stamps a status record with this store's session identity.
func (s *Store) NewRecord(u uid.UID, node, nodeType string, c *chunk.Chunk) *StatusRecord {
	return &StatusRecord{
		UID:        string(u),
		Node:       node,
		NodeType:   nodeType,
		ChunkIndex: c.Index,
		Range:      c.Range,
		Status:     c.Status,
		StartedAt:  c.StartedAt,
		EndedAt:    c.EndedAt,
		SessionID:  s.sessionID,
		PID:        s.pid,
	}
}

// WriteRecord persists a status record atomically.
func (s *Store) WriteRecord(u uid.UID, rec *StatusRecord) error {
	if _, err := s.EnsureDir(u); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.recordPath(u, rec.ChunkIndex), data)
}

// ReadRecord loads one chunk's status record. A missing file returns
// ok=false with a nil error; an unreadable or partial file returns ok=false
// with a *CorruptRecordError so the caller can log and recompute.
func (s *Store) ReadRecord(u uid.UID, index int) (*StatusRecord, bool, error) {
	path := s.recordPath(u, index)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &CorruptRecordError{Path: path, Err: err}
	}
	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, &CorruptRecordError{Path: path, Err: err}
	}
	if !rec.Status.Valid() {
		return nil, false, &CorruptRecordError{Path: path, Err: fmt.Errorf("unknown status %q", rec.Status)}
	}
	return &rec, true, nil
}

// ReadStatuses reads the persisted status of chunkCount chunks, mapping
// missing and corrupt records to NONE. Corrupt records are logged, never
// fatal: correctness beats reuse.
func (s *Store) ReadStatuses(ctx context.Context, u uid.UID, chunkCount int) []chunk.Status {
	logger := ctxlog.FromContext(ctx)
	out := make([]chunk.Status, chunkCount)
	for i := range out {
		rec, ok, err := s.ReadRecord(u, i)
		if err != nil {
			var corrupt *CorruptRecordError
			if errors.As(err, &corrupt) {
				logger.Warn("Ignoring corrupt status record, chunk will recompute.", "path", corrupt.Path, "error", corrupt.Err)
			}
			out[i] = chunk.StatusNone
			continue
		}
		if !ok {
			out[i] = chunk.StatusNone
			continue
		}
		out[i] = rec.Status
	}
	return out
}

// Reset deletes every status record of a UID, forcing all chunks back to
// NONE. The manifest, if any, is removed too.
func (s *Store) Reset(u uid.UID) error {
	dir := s.Dir(u)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.manifests.Remove(string(u))
	for _, e := range entries {
		name := e.Name()
		if name == manifestName || (len(name) > 7 && name[:7] == "status.") ||
			(len(name) > 11 && name[:11] == "statistics.") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reconcile applies the assume-dead policy to a UID's records: any
// non-terminal record owned by a process that is no longer alive is
// rewritten as ERROR. A crashed run is never silently re-assumed SUCCESS.
func (s *Store) Reconcile(ctx context.Context, u uid.UID, chunkCount int) error {
	logger := ctxlog.FromContext(ctx)
	for i := 0; i < chunkCount; i++ {
		rec, ok, err := s.ReadRecord(u, i)
		if err != nil || !ok {
			continue
		}
		if rec.Status != chunk.StatusSubmitted && rec.Status != chunk.StatusRunning {
			continue
		}
		if rec.SessionID == s.sessionID || processAlive(rec.PID) {
			continue
		}
		logger.Warn("Reclaiming status record from dead owner.", "uid", rec.UID, "chunk", i, "pid", rec.PID)
		rec.Status = chunk.StatusError
		rec.EndedAt = time.Now()
		rec.SessionID = s.sessionID
		rec.PID = s.pid
		if err := s.WriteRecord(u, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) statisticsPath(u uid.UID, index int) string {
	return filepath.Join(s.Dir(u), fmt.Sprintf("statistics.%d.json", index))
}

// WriteStatistics persists one chunk's execution statistics next to its
// status record.
func (s *Store) WriteStatistics(u uid.UID, st *Statistics) error {
	if _, err := s.EnsureDir(u); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.statisticsPath(u, st.ChunkIndex), data)
}

// ReadStatistics loads one chunk's statistics. A missing or unreadable file
// reads as absent.
func (s *Store) ReadStatistics(u uid.UID, index int) (*Statistics, bool) {
	data, err := os.ReadFile(s.statisticsPath(u, index))
	if err != nil {
		return nil, false
	}
	var st Statistics
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false
	}
	return &st, true
}

// WriteManifest finalizes a cache entry after all chunks succeeded.
func (s *Store) WriteManifest(u uid.UID, m *Manifest) error {
	if _, err := s.EnsureDir(u); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.Dir(u), manifestName), data); err != nil {
		return err
	}
	s.manifests.Add(string(u), m)
	return nil
}

// ReadManifest loads a cache entry's manifest, memoized per store. A
// corrupt manifest reads as absent.
func (s *Store) ReadManifest(ctx context.Context, u uid.UID) (*Manifest, bool) {
	if m, ok := s.manifests.Get(string(u)); ok {
		return m, true
	}
	path := filepath.Join(s.Dir(u), manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		ctxlog.FromContext(ctx).Warn("Ignoring corrupt manifest.", "path", path, "error", err)
		return nil, false
	}
	s.manifests.Add(string(u), &m)
	return &m, true
}

// processAlive reports whether a PID refers to a live process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// writeAtomic writes data with a write-then-publish discipline so a crash
// mid-write never leaves a record in an ambiguous state.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

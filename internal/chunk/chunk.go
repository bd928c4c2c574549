package chunk

import (
	"fmt"
	"time"
)

// Range is a half-open [Start, End) slice of a node's iteration space.
type Range struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	BlockSize int `json:"blockSize"`
}

// Size returns the number of elements covered by the range.
func (r Range) Size() int { return r.End - r.Start }

// FullRange is the range used by nodes that do not split.
var FullRange = Range{Start: 0, End: 1, BlockSize: 0}

// Split partitions an iteration space of the given size into ranges of at
// most blockSize elements. A blockSize of zero or less yields a single
// full-size range.
func Split(size, blockSize int) []Range {
	if blockSize <= 0 || size <= blockSize {
		return []Range{{Start: 0, End: size, BlockSize: blockSize}}
	}
	var ranges []Range
	for start := 0; start < size; start += blockSize {
		end := start + blockSize
		if end > size {
			end = size
		}
		ranges = append(ranges, Range{Start: start, End: end, BlockSize: blockSize})
	}
	return ranges
}

// Chunk is one dispatchable unit of a node's work.
type Chunk struct {
	Index     int
	Range     Range
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
}

// New returns a chunk in the NONE state.
func New(index int, r Range) *Chunk {
	return &Chunk{Index: index, Range: r, Status: StatusNone}
}

// Transition moves the chunk to the given status after validating the step,
// stamping start and end times at the RUNNING and terminal boundaries.
func (c *Chunk) Transition(to Status) error {
	if err := CheckTransition(c.Status, to); err != nil {
		return fmt.Errorf("chunk %d: %w", c.Index, err)
	}
	c.Status = to
	switch {
	case to == StatusRunning:
		c.StartedAt = time.Now()
	case to.IsTerminal():
		c.EndedAt = time.Now()
	}
	return nil
}

// Restore installs a status read back from a persisted record, bypassing
// transition validation. Only record replay uses this.
func (c *Chunk) Restore(s Status) {
	c.Status = s
}

// Advance steps the chunk toward an observed status, passing through the
// intermediate states a slow poll may have skipped over.
func (c *Chunk) Advance(observed Status) error {
	for c.Status != observed {
		next := observed
		if c.Status == StatusNone && observed != StatusSubmitted {
			next = StatusSubmitted
		} else if c.Status == StatusSubmitted && observed == StatusSuccess {
			next = StatusRunning
		}
		if err := c.Transition(next); err != nil {
			return err
		}
	}
	return nil
}

// Reset forces the chunk back to NONE, clearing its timestamps. This is the
// only way out of a terminal status.
func (c *Chunk) Reset() {
	c.Status = StatusNone
	c.StartedAt = time.Time{}
	c.EndedAt = time.Time{}
}

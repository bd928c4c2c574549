// Package chunk models the dispatchable units of a node's work and the
// crash-safe status state machine each unit moves through.
package chunk

import "fmt"

// Status is the execution state of a single chunk.
type Status string

const (
	StatusNone      Status = "NONE"
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusError     Status = "ERROR"
	StatusSuccess   Status = "SUCCESS"
	StatusStopped   Status = "STOPPED"
)

// IsTerminal reports whether the status is final for this attempt.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusError, StatusSuccess, StatusStopped:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusSubmitted, StatusRunning, StatusError, StatusSuccess, StatusStopped:
		return true
	default:
		return false
	}
}

// allowed returns the set of statuses reachable from s in one step.
// Terminal statuses have no successors; only an explicit Reset leaves them.
func allowed(s Status) []Status {
	switch s {
	case StatusNone:
		return []Status{StatusSubmitted}
	case StatusSubmitted:
		return []Status{StatusRunning, StatusError, StatusStopped}
	case StatusRunning:
		return []Status{StatusSuccess, StatusError, StatusStopped}
	default:
		return nil
	}
}

// TransitionError reports a disallowed status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed status transition %s -> %s", e.From, e.To)
}

// CheckTransition validates a single-step transition.
func CheckTransition(from, to Status) error {
	for _, next := range allowed(from) {
		if next == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

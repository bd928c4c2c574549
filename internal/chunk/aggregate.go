package chunk

// Aggregate derives a node-level status from its chunk statuses.
//
// Precedence: ERROR if any chunk errored; else RUNNING if any is running;
// else SUBMITTED if any is submitted; else STOPPED if any chunk was stopped
// and the rest are terminal; else SUCCESS iff every chunk succeeded; else
// NONE.
func Aggregate(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusNone
	}

	var anyRunning, anySubmitted, anyStopped bool
	allSuccess := true
	allTerminal := true
	for _, s := range statuses {
		switch s {
		case StatusError:
			return StatusError
		case StatusRunning:
			anyRunning = true
		case StatusSubmitted:
			anySubmitted = true
		case StatusStopped:
			anyStopped = true
		}
		if s != StatusSuccess {
			allSuccess = false
		}
		if !s.IsTerminal() {
			allTerminal = false
		}
	}

	switch {
	case anyRunning:
		return StatusRunning
	case anySubmitted:
		return StatusSubmitted
	case anyStopped && allTerminal:
		return StatusStopped
	case allSuccess:
		return StatusSuccess
	default:
		return StatusNone
	}
}

// Computed reports whether the aggregate of the given statuses is SUCCESS.
func Computed(statuses []Status) bool {
	return Aggregate(statuses) == StatusSuccess
}

// PartiallyFinished reports whether at least one chunk succeeded while the
// node as a whole has not.
func PartiallyFinished(statuses []Status) bool {
	if Aggregate(statuses) == StatusSuccess {
		return false
	}
	for _, s := range statuses {
		if s == StatusSuccess {
			return true
		}
	}
	return false
}

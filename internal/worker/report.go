package worker

// Mode selects the scope of a build request relative to its target.
type Mode int

const (
	// ModeAll builds the whole graph; Target is ignored.
	ModeAll Mode = iota
	// ModeNode builds just the target node.
	ModeNode
	// ModeUpstream builds the target and everything it depends on.
	ModeUpstream
	// ModeDownstream builds the target and everything depending on it.
	ModeDownstream
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeNode:
		return "only"
	case ModeUpstream:
		return "to"
	case ModeDownstream:
		return "from"
	default:
		return "unknown"
	}
}

// ParseMode maps the CLI spelling of a build scope to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "all":
		return ModeAll, true
	case "only":
		return ModeNode, true
	case "to":
		return ModeUpstream, true
	case "from":
		return ModeDownstream, true
	default:
		return 0, false
	}
}

// Request describes one build invocation.
type Request struct {
	Target string
	Mode   Mode
}

// outcome is the final disposition of one scheduled node.
type outcome int

const (
	outcomePending outcome = iota
	outcomeSucceeded
	outcomeCached
	outcomeFailed
	outcomeBlocked
	outcomeStopped
)

// Report summarizes a build: which nodes computed, which were skipped as
// cache hits, which failed, which were never attempted because a failed
// ancestor blocked them, and which were stopped by cancellation. All slices
// follow topological order.
type Report struct {
	Succeeded []string
	Cached    []string
	Failed    []string
	Blocked   []string
	Stopped   []string
}

// OK reports whether every scheduled node ended computed or cache-hit.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Blocked) == 0 && len(r.Stopped) == 0
}

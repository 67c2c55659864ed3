package types

// Status represents the possible states of a testable node
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "pass"
	StatusFailed  Status = "fail"
	StatusError   Status = "error"
	StatusSkipped Status = "skip"
)

// statusRank orders terminal statuses for aggregation. Higher rank dominates
// when a parent's status is reduced from its children.
var statusRank = map[Status]int{
	StatusPassed:  1,
	StatusSkipped: 2,
	StatusFailed:  3,
	StatusError:   4,
}

// IsTerminal returns true if the status is a final state that can no longer change
func (s Status) IsTerminal() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the aggregation precedence of a terminal status.
// Non-terminal statuses rank below every terminal status.
func (s Status) Rank() int {
	return statusRank[s]
}

func (s Status) String() string {
	return string(s)
}

// Dominates returns true if s takes precedence over other during aggregation
func (s Status) Dominates(other Status) bool {
	return s.Rank() > other.Rank()
}

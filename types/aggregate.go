package types

import "fmt"

// Aggregate reduces children statuses into a parent status by precedence:
// error > fail > skip > pass. A container with zero children is a vacuous
// pass; this is deliberate and covered by tests, since it is an easy source
// of silent false positives.
func Aggregate(children []Status) Status {
	if len(children) == 0 {
		return StatusPassed
	}
	agg := StatusPassed
	for _, s := range children {
		if s.Dominates(agg) {
			agg = s
		}
	}
	return agg
}

// InvariantViolationError reports a violation of the aggregation protocol:
// a parent finalized before all of its children, or a finalized node was
// finalized again in strict mode. It indicates a framework defect and is
// fatal to the run, never recovered locally.
type InvariantViolationError struct {
	NodeID string
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("aggregation invariant violated at %q: %s", e.NodeID, e.Reason)
}

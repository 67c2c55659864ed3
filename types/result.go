package types

import (
	"fmt"
	"time"
)

// Action is the abstract operation a step asks an agent to perform.
// The engine never interprets the payload; it is passed through to the
// resolved agent verbatim.
type Action struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Outcome is an agent's raw report of executing an action, before the
// dispatcher normalizes it into a Result.
type Outcome struct {
	Status Status // terminal status reported by the agent
	Detail string // free-form agent diagnostic
}

// Result captures the final state of a testable node.
// Once attached to a node it is immutable.
type Result struct {
	NodeID   string
	Status   Status
	Start    time.Time
	End      time.Time
	Message  string   // diagnostic explanation of the status
	Outcome  *Outcome // captured agent outcome, steps only
	Err      error    // underlying error for error-status results
	TimedOut bool
}

// Duration returns the wall-clock time the node spent executing
func (r *Result) Duration() time.Duration {
	if r.Start.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

func (r *Result) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s: %s", r.NodeID, r.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", r.NodeID, r.Status, r.Message)
}

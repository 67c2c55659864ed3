package types

import (
	"fmt"
	"sync"
	"time"

	"github.com/flightcheck/flightcheck/constraint"
)

// Kind identifies the variant of a testable node.
// The set is closed: the run engine dispatches on kind for execution-policy
// selection only, aggregation is kind-agnostic.
type Kind string

const (
	KindSuite  Kind = "suite"  // collection of cases
	KindCase   Kind = "case"   // collection of flights sharing fixture state
	KindFlight Kind = "flight" // ordered collection of steps
	KindStep   Kind = "step"   // atomic action dispatched to an agent
)

// Policy controls how a container executes its children
type Policy string

const (
	PolicySequential Policy = "sequential"
	PolicyParallel   Policy = "parallel"
)

// Observer receives every node status transition as it happens
type Observer func(node *Node, from, to Status)

// treeState is shared by every node of one bound tree
type treeState struct {
	strict   bool
	observer Observer
}

// Node is a testable: one node of the Suite/Case/Flight/Step ownership tree.
// Containers own their children; a step owns its action and requirement.
// Structural fields are set during construction and must not be mutated after
// Bind. Execution state is guarded by the node's mutex and becomes read-only
// once the node finalizes.
type Node struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	Policy      Policy
	Parent      *Node
	Children    []*Node

	// Step-only fields
	Action      Action
	Requirement constraint.Set
	Timeout     time.Duration // 0 means use the dispatcher default
	Expected    []Status      // acceptable raw outcomes, defaults to pass
	Independent bool          // does not depend on the preceding step's side effects

	mu        sync.Mutex
	status    Status
	result    *Result
	remaining int // children not yet finalized
	started   time.Time
	tree      *treeState
}

// NewSuite creates a suite container. Cases within a suite run in parallel by
// default, bounded by the engine's worker limit.
func NewSuite(name string) *Node {
	return &Node{Name: name, Kind: KindSuite, Policy: PolicyParallel, status: StatusPending}
}

// NewCase creates a case container. Flights within a case run sequentially by
// default because they typically share mutable fixture state.
func NewCase(name string) *Node {
	return &Node{Name: name, Kind: KindCase, Policy: PolicySequential, status: StatusPending}
}

// NewFlight creates a flight container. Steps within a flight always run
// strictly sequentially.
func NewFlight(name string) *Node {
	return &Node{Name: name, Kind: KindFlight, Policy: PolicySequential, status: StatusPending}
}

// NewStep creates a step leaf carrying an action and the requirement used to
// resolve the agent that executes it.
func NewStep(name string, action Action, requirement constraint.Set) *Node {
	return &Node{
		Name:        name,
		Kind:        KindStep,
		Action:      action,
		Requirement: requirement,
		status:      StatusPending,
	}
}

// AddChild appends a child to a container and sets its parent back-reference
func (n *Node) AddChild(child *Node) *Node {
	if n.Kind == KindStep {
		panic(fmt.Sprintf("step %q cannot own children", n.Name))
	}
	child.Parent = n
	n.Children = append(n.Children, child)
	return n
}

// Bind prepares a constructed tree for execution: assigns path IDs, attaches
// the shared tree state and initializes child counters. It must be called on
// the root exactly once, before the run starts.
func (n *Node) Bind(strict bool, observer Observer) {
	if observer == nil {
		observer = func(*Node, Status, Status) {}
	}
	n.bind(&treeState{strict: strict, observer: observer}, "")
}

func (n *Node) bind(state *treeState, prefix string) {
	n.tree = state
	if prefix == "" {
		n.ID = n.Name
	} else {
		n.ID = prefix + "/" + n.Name
	}
	n.status = StatusPending
	n.remaining = len(n.Children)
	for _, child := range n.Children {
		child.bind(state, n.ID)
	}
}

// Status returns the node's current status
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Result returns the node's result, or nil if the node has not finalized
func (n *Node) Result() *Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result
}

// Finalized returns true once the node has a terminal status
func (n *Node) Finalized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.IsTerminal()
}

// StartTime returns when the node began running (zero if it never started)
func (n *Node) StartTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// IsContainer returns true for suite, case and flight nodes
func (n *Node) IsContainer() bool {
	return n.Kind != KindStep
}

// MarkRunning transitions the node from pending to running.
// Calling it on a node that already left pending is a no-op.
func (n *Node) MarkRunning() {
	n.mu.Lock()
	if n.status != StatusPending {
		n.mu.Unlock()
		return
	}
	from := n.status
	n.status = StatusRunning
	n.started = time.Now()
	n.mu.Unlock()
	n.tree.observer(n, from, StatusRunning)
}

// Finalize records the node's terminal result exactly once and propagates the
// finalization to the parent. For containers it may only be called when every
// child has already finalized (the zero-children vacuous case included);
// otherwise it is an aggregation invariant violation. Finalizing a node that
// is already finalized is a no-op, or an invariant violation in strict mode.
func (n *Node) Finalize(res *Result) error {
	if res == nil || !res.Status.IsTerminal() {
		return &InvariantViolationError{NodeID: n.ID, Reason: "finalize requires a terminal result"}
	}

	n.mu.Lock()
	if n.status.IsTerminal() {
		strict := n.tree.strict
		n.mu.Unlock()
		if strict {
			return &InvariantViolationError{NodeID: n.ID, Reason: "node finalized twice"}
		}
		return nil
	}
	if n.remaining > 0 {
		n.mu.Unlock()
		return &InvariantViolationError{
			NodeID: n.ID,
			Reason: fmt.Sprintf("finalized with %d unfinished children", n.remaining),
		}
	}
	from := n.status
	res.NodeID = n.ID
	n.status = res.Status
	n.result = res
	n.mu.Unlock()

	n.tree.observer(n, from, res.Status)

	if n.Parent != nil {
		return n.Parent.childFinalized()
	}
	return nil
}

// childFinalized is invoked by a child upon its own finalization. When the
// last child reports in, the parent reduces its children's statuses into its
// own result and cascades upward.
func (n *Node) childFinalized() error {
	n.mu.Lock()
	n.remaining--
	if n.remaining < 0 {
		n.mu.Unlock()
		return &InvariantViolationError{NodeID: n.ID, Reason: "received more child finalizations than children"}
	}
	if n.remaining > 0 {
		n.mu.Unlock()
		return nil
	}
	start := n.started
	n.mu.Unlock()

	statuses := make([]Status, 0, len(n.Children))
	for _, child := range n.Children {
		statuses = append(statuses, child.Status())
	}
	if start.IsZero() {
		// Container never started (e.g. cancelled before scheduling); anchor
		// its window on the earliest child that did.
		for _, child := range n.Children {
			if cs := child.StartTime(); !cs.IsZero() && (start.IsZero() || cs.Before(start)) {
				start = cs
			}
		}
	}

	return n.Finalize(&Result{
		Status: Aggregate(statuses),
		Start:  start,
		End:    time.Now(),
	})
}

// Walk traverses the subtree in declaration order, stopping a branch when the
// visitor returns false.
func (n *Node) Walk(visitor func(*Node) bool) {
	if !visitor(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(visitor)
	}
}

// Steps returns all step leaves of the subtree in declaration order
func (n *Node) Steps() []*Node {
	var steps []*Node
	n.Walk(func(node *Node) bool {
		if node.Kind == KindStep {
			steps = append(steps, node)
		}
		return true
	})
	return steps
}

// Stats aggregates step counts by status for the subtree
type Stats struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Errored  int
	PassRate float64
}

// Stats counts the subtree's step leaves by terminal status
func (n *Node) Stats() Stats {
	var stats Stats
	n.Walk(func(node *Node) bool {
		if node.Kind != KindStep {
			return true
		}
		stats.Total++
		switch node.Status() {
		case StatusPassed:
			stats.Passed++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		case StatusError:
			stats.Errored++
		}
		return true
	})
	if stats.Total > 0 {
		stats.PassRate = float64(stats.Passed) / float64(stats.Total) * 100
	}
	return stats
}

// Package runner drives execution of a bound testable tree: scheduling,
// concurrency policy, cancellation and timeouts. It dispatches steps through
// agents, feeds the aggregation protocol and streams progress events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/flightcheck/flightcheck/agent"
	"github.com/flightcheck/flightcheck/metrics"
	"github.com/flightcheck/flightcheck/registry"
	"github.com/flightcheck/flightcheck/types"
)

// DefaultConcurrency bounds parallel case execution when unconfigured
const DefaultConcurrency = 4

// Runner executes testable trees
type Runner struct {
	dispatcher  *agent.Dispatcher
	tracker     *Tracker
	log         log.Logger
	concurrency int
	failFast    bool
	strict      bool

	runID string
}

// Config holds configuration for creating a runner
type Config struct {
	Dispatcher  *agent.Dispatcher
	Tracker     *Tracker
	Log         log.Logger
	Concurrency int  // max concurrent cases per parallel suite (0 = default)
	FailFast    bool // abort the whole run on a mid-run resolution failure
	Strict      bool // treat double finalization as an invariant violation
}

// NewRunner creates a runner instance
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker(cfg.Log, 0)
	}
	return &Runner{
		dispatcher:  cfg.Dispatcher,
		tracker:     cfg.Tracker,
		log:         cfg.Log,
		concurrency: cfg.Concurrency,
		failFast:    cfg.FailFast,
		strict:      cfg.Strict,
	}, nil
}

// Tracker returns the progress tracker events are streamed through
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// errRunAborted wraps the failure that made a fail-fast run stop scheduling
var errRunAborted = errors.New("run aborted")

// Run executes the tree to full finalization and returns the frozen root.
// Cancelling the context stops new steps from starting; every node still
// finalizes (not-yet-started steps as skipped) so the aggregate is always
// complete. The returned error reports framework faults, never test
// failures; inspect the root's result for those.
func (r *Runner) Run(ctx context.Context, root *types.Node) (*types.Node, error) {
	r.runID = uuid.New().String()
	start := time.Now()

	root.Bind(r.strict, r.tracker.Observe)
	steps := root.Steps()
	r.tracker.Begin(len(steps))
	r.log.Info("Starting run", "run_id", r.runID, "root", root.ID, "steps", len(steps), "concurrency", r.concurrency)

	err := r.runNode(ctx, root)
	if err != nil && !errors.Is(err, errRunAborted) {
		// Framework defect (invariant violation); surface immediately with
		// the tree in whatever state it reached.
		metrics.RecordError("invariant_violation")
		r.tracker.Complete(root)
		return root, err
	}
	abort := err

	// Nodes the scheduler never reached (cancellation or fail-fast abort)
	// still owe the aggregation protocol a finalization.
	if sweepErr := r.sweepUnstarted(root, abort); sweepErr != nil {
		r.tracker.Complete(root)
		return root, sweepErr
	}

	if !root.Finalized() {
		r.tracker.Complete(root)
		return root, &types.InvariantViolationError{NodeID: root.ID, Reason: "run finished without finalizing the root"}
	}

	result := root.Result()
	stats := root.Stats()
	metrics.RecordRun(r.runID, result.Status, stats, time.Since(start))
	r.log.Info("Run completed",
		"run_id", r.runID,
		"status", result.Status,
		"duration", time.Since(start),
		"total", stats.Total,
		"passed", stats.Passed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"errored", stats.Errored)

	r.tracker.Complete(root)

	return root, abort
}

// runNode dispatches on the node's kind: execution policy is the only thing
// that varies per variant.
func (r *Runner) runNode(ctx context.Context, n *types.Node) error {
	if n.Kind == types.KindStep {
		return r.runStep(ctx, n)
	}
	return r.runContainer(ctx, n)
}

func (r *Runner) runContainer(ctx context.Context, n *types.Node) error {
	n.MarkRunning()

	if len(n.Children) == 0 {
		// Vacuous success: a container with nothing to run passes.
		return n.Finalize(&types.Result{
			Status:  types.StatusPassed,
			Start:   n.StartTime(),
			End:     time.Now(),
			Message: "no children",
		})
	}

	// Only the suite→case boundary runs in parallel; flights share fixture
	// state with their siblings and steps depend on each other's effects.
	if n.Kind == types.KindSuite && n.Policy == types.PolicyParallel && r.concurrency > 1 {
		return r.runChildrenParallel(ctx, n.Children)
	}
	if n.Kind == types.KindFlight {
		return r.runFlight(ctx, n)
	}

	for _, child := range n.Children {
		if err := r.runNode(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// runFlight executes steps strictly in declaration order. Consecutive steps
// explicitly marked independent form a batch that may run concurrently; any
// dependent step is a barrier.
func (r *Runner) runFlight(ctx context.Context, flight *types.Node) error {
	i := 0
	for i < len(flight.Children) {
		step := flight.Children[i]
		if !step.Independent {
			if err := r.runStep(ctx, step); err != nil {
				return err
			}
			i++
			continue
		}

		batch := []*types.Node{step}
		for i+len(batch) < len(flight.Children) && flight.Children[i+len(batch)].Independent {
			batch = append(batch, flight.Children[i+len(batch)])
		}
		if err := r.runChildrenParallel(ctx, batch); err != nil {
			return err
		}
		i += len(batch)
	}
	return nil
}

// runStep executes a single step through the dispatcher. A cancelled run
// finalizes not-yet-started steps as skipped without dispatching.
func (r *Runner) runStep(ctx context.Context, step *types.Node) error {
	if ctx.Err() != nil {
		return r.skipStep(step, "run cancelled before step started")
	}

	step.MarkRunning()
	res := r.dispatcher.Dispatch(ctx, step)
	if err := step.Finalize(res); err != nil {
		return err
	}
	metrics.RecordStep(r.runID, step.ID, res.Status)

	if r.failFast && (registry.IsUnsatisfiable(res.Err) || registry.IsAmbiguous(res.Err)) {
		r.log.Error("Resolution failure with fail-fast enabled, aborting run", "step", step.ID, "error", res.Err)
		return fmt.Errorf("%w: %w", errRunAborted, res.Err)
	}
	return nil
}

func (r *Runner) skipStep(step *types.Node, reason string) error {
	now := time.Now()
	if err := step.Finalize(&types.Result{
		Status:  types.StatusSkipped,
		Start:   now,
		End:     now,
		Message: reason,
	}); err != nil {
		return err
	}
	metrics.RecordStep(r.runID, step.ID, types.StatusSkipped)
	return nil
}

// sweepUnstarted finalizes every node the scheduler never reached as skipped,
// letting the cascade finalize their ancestors. Already-finalized nodes are
// untouched.
func (r *Runner) sweepUnstarted(root *types.Node, abort error) error {
	reason := "run cancelled before step started"
	if abort != nil {
		reason = "run aborted before step started"
	}
	for _, step := range root.Steps() {
		if step.Finalized() {
			continue
		}
		if step.Status() == types.StatusRunning {
			// Exclusively owned by an execution branch; the branch finalizes
			// it. Reaching here with a live branch is a scheduler defect.
			return &types.InvariantViolationError{NodeID: step.ID, Reason: "sweep found an in-flight step"}
		}
		if err := r.skipStep(step, reason); err != nil {
			return err
		}
	}
	return r.sweepEmptyContainers(root, abort)
}

// sweepEmptyContainers finalizes childless containers the scheduler never
// visited. Containers with children finalize through the cascade once their
// steps are swept; a childless one has no child to trigger it, so it would
// stay pending forever and block the root's finalization.
func (r *Runner) sweepEmptyContainers(n *types.Node, abort error) error {
	for _, child := range n.Children {
		if child.IsContainer() {
			if err := r.sweepEmptyContainers(child, abort); err != nil {
				return err
			}
		}
	}
	if !n.IsContainer() || len(n.Children) > 0 || n.Finalized() {
		return nil
	}
	reason := "run cancelled before container started"
	if abort != nil {
		reason = "run aborted before container started"
	}
	now := time.Now()
	return n.Finalize(&types.Result{
		Status:  types.StatusSkipped,
		Start:   now,
		End:     now,
		Message: reason,
	})
}

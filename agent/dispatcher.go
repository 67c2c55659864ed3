package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/flightcheck/flightcheck/metrics"
	"github.com/flightcheck/flightcheck/registry"
	"github.com/flightcheck/flightcheck/types"
)

// Sentinel causes attached to error results so callers can distinguish
// deadline and cancellation outcomes from agent faults.
var (
	ErrDispatchTimeout = errors.New("step exceeded its deadline")
	ErrCancelled       = errors.New("step cancelled")
)

// DefaultTimeout bounds step execution when neither the step nor the engine
// configuration overrides it.
const DefaultTimeout = 5 * time.Minute

// DefaultCancelGrace is how long a cancelled step waits for its agent to
// acknowledge Cancel before being finalized regardless.
const DefaultCancelGrace = 10 * time.Second

// Dispatcher resolves a step's agent and executes its action, normalizing
// every possible outcome (success, agent fault, panic, timeout, cancellation)
// into a Result. A dispatch never aborts sibling execution: all faults are
// isolated at the step boundary.
type Dispatcher struct {
	resolver       *registry.Resolver
	log            log.Logger
	defaultTimeout time.Duration
	cancelGrace    time.Duration
}

// DispatcherConfig holds configuration for creating a dispatcher
type DispatcherConfig struct {
	Resolver       *registry.Resolver
	Log            log.Logger
	DefaultTimeout time.Duration // 0 selects DefaultTimeout
	CancelGrace    time.Duration // 0 selects DefaultCancelGrace
}

// NewDispatcher creates a dispatcher over a resolver
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	return &Dispatcher{
		resolver:       cfg.Resolver,
		log:            cfg.Log,
		defaultTimeout: cfg.DefaultTimeout,
		cancelGrace:    cfg.CancelGrace,
	}, nil
}

type executeReply struct {
	outcome types.Outcome
	err     error
}

// Dispatch executes a step's action through its resolved agent and returns
// the normalized result. It never returns an error; anything an agent raises
// becomes Result{Status: error} with diagnostics.
func (d *Dispatcher) Dispatch(ctx context.Context, step *types.Node) *types.Result {
	start := time.Now()

	binding, err := d.resolver.Resolve(step.Requirement)
	if err != nil {
		d.log.Error("Agent resolution failed", "step", step.ID, "error", err)
		metrics.RecordError("resolution_failure")
		return &types.Result{
			Status:  types.StatusError,
			Start:   start,
			End:     time.Now(),
			Message: fmt.Sprintf("resolving agent: %v", err),
			Err:     err,
		}
	}

	ag, ok := binding.Object.(Agent)
	if !ok {
		err := fmt.Errorf("factory %q produced %T, which is not an agent", binding.Factory, binding.Object)
		return &types.Result{
			Status:  types.StatusError,
			Start:   start,
			End:     time.Now(),
			Message: err.Error(),
			Err:     err,
		}
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replyCh := make(chan executeReply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				replyCh <- executeReply{err: fmt.Errorf("agent panic: %v", rec)}
			}
		}()
		outcome, execErr := ag.Execute(execCtx, step.Action)
		replyCh <- executeReply{outcome: outcome, err: execErr}
	}()

	select {
	case reply := <-replyCh:
		return d.normalize(step, start, reply)

	case <-execCtx.Done():
		if ctx.Err() == nil {
			// The step's own deadline fired; the run is still live. Timeout
			// is unconditional: a late reply does not resurrect the step.
			d.log.Warn("Step timed out", "step", step.ID, "timeout", timeout)
			d.cancelAgent(ag, step.ID)
			return &types.Result{
				Status:   types.StatusError,
				Start:    start,
				End:      time.Now(),
				Message:  fmt.Sprintf("action %q exceeded timeout of %s", step.Action.Name, timeout),
				Err:      ErrDispatchTimeout,
				TimedOut: true,
			}
		}

		// Run-level cancellation. Give the agent a grace period to stop and
		// report; past that the step is an error regardless.
		d.cancelAgent(ag, step.ID)
		select {
		case reply := <-replyCh:
			return d.normalize(step, start, reply)
		case <-time.After(d.cancelGrace):
			return &types.Result{
				Status:  types.StatusError,
				Start:   start,
				End:     time.Now(),
				Message: fmt.Sprintf("cancelled; agent did not stop within %s", d.cancelGrace),
				Err:     ErrCancelled,
			}
		}
	}
}

func (d *Dispatcher) cancelAgent(ag Agent, stepID string) {
	if err := ag.Cancel(); err != nil {
		d.log.Warn("Agent cancel failed", "step", stepID, "error", err)
	}
}

// normalize converts the agent's raw reply into the step result, applying the
// step's expected-status declarations. With the default expectation (pass)
// the raw status stands as-is; with explicit expectations, a raw status that
// matches finalizes as pass and a mismatch as fail.
func (d *Dispatcher) normalize(step *types.Node, start time.Time, reply executeReply) *types.Result {
	end := time.Now()

	if reply.err != nil {
		return &types.Result{
			Status:  types.StatusError,
			Start:   start,
			End:     end,
			Message: fmt.Sprintf("action %q: %v", step.Action.Name, reply.err),
			Err:     reply.err,
		}
	}

	outcome := reply.outcome
	if !outcome.Status.IsTerminal() {
		err := fmt.Errorf("agent reported non-terminal status %q", outcome.Status)
		return &types.Result{
			Status:  types.StatusError,
			Start:   start,
			End:     end,
			Message: err.Error(),
			Outcome: &outcome,
			Err:     err,
		}
	}

	expected := step.Expected
	if len(expected) == 0 {
		return &types.Result{
			Status:  outcome.Status,
			Start:   start,
			End:     end,
			Message: outcome.Detail,
			Outcome: &outcome,
		}
	}

	for _, want := range expected {
		if outcome.Status == want {
			msg := outcome.Detail
			if outcome.Status != types.StatusPassed {
				msg = fmt.Sprintf("actual %s matched expected %s: %s", outcome.Status, want, outcome.Detail)
			}
			return &types.Result{
				Status:  types.StatusPassed,
				Start:   start,
				End:     end,
				Message: msg,
				Outcome: &outcome,
			}
		}
	}

	return &types.Result{
		Status:  types.StatusFailed,
		Start:   start,
		End:     end,
		Message: fmt.Sprintf("actual %s not among expected %v: %s", outcome.Status, expected, outcome.Detail),
		Outcome: &outcome,
	}
}

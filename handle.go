package flightcheck

import (
	"context"

	"github.com/flightcheck/flightcheck/runner"
	"github.com/flightcheck/flightcheck/types"
)

// RunHandle tracks one submitted run. It exposes the ordered progress event
// stream, cooperative cancellation and blocking retrieval of the final result
// tree.
type RunHandle struct {
	cancel context.CancelFunc
	events <-chan runner.Event
	done   chan struct{}

	// set by the run goroutine before done is closed
	root *types.Node
	err  error
}

// Events returns the run's ordered status-transition stream. The subscription
// is made before execution starts, so the channel carries every transition in
// global sequence order and is closed after the final event, which carries the
// frozen result tree. Every call returns the same channel; consumers that fall
// more than the channel's buffer behind stall the run, so drain promptly.
func (h *RunHandle) Events() <-chan runner.Event {
	return h.events
}

// Cancel requests cooperative cancellation: the in-flight step is told to stop
// and everything not yet started finalizes as skipped. Await still returns the
// complete result tree. Cancelling a finished run is a no-op.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Await blocks until the run finishes and returns the finalized root. The
// context bounds the wait only; expiring it does not cancel the run itself.
func (h *RunHandle) Await(ctx context.Context) (*types.Node, error) {
	select {
	case <-h.done:
		return h.root, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the run has finished and its result is available
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

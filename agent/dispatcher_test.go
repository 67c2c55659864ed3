package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/registry"
	"github.com/flightcheck/flightcheck/types"
)

// fakeAgent scripts Execute behavior for dispatcher tests
type fakeAgent struct {
	outcome  types.Outcome
	err      error
	panicMsg string

	// When set, Execute blocks here instead of replying; a closed channel
	// releases it with the scripted outcome.
	release chan struct{}
	// When true, Execute replies as soon as its context is done.
	replyOnCancel bool

	cancelled atomic.Bool
}

func (f *fakeAgent) Execute(ctx context.Context, action types.Action) (types.Outcome, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.release != nil {
		if f.replyOnCancel {
			select {
			case <-f.release:
			case <-ctx.Done():
			}
		} else {
			<-f.release
		}
	}
	return f.outcome, f.err
}

func (f *fakeAgent) Cancel() error {
	f.cancelled.Store(true)
	return nil
}

func newTestDispatcher(t *testing.T, ag Agent, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	reg := registry.NewRegistry(registry.Config{})
	require.NoError(t, reg.Register(registry.Factory{
		Name:      "fake",
		Declares:  constraint.MustSet(constraint.Equals(constraint.TraitInterface, "cli")),
		Construct: func() (any, error) { return ag, nil },
	}))
	cfg.Resolver = registry.NewResolver(reg, nil)
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	return d
}

func newTestStep(name string) *types.Node {
	step := types.NewStep(name, types.Action{Name: "probe"},
		constraint.MustSet(constraint.Equals(constraint.TraitInterface, "cli")))
	step.Bind(false, nil)
	return step
}

func TestDispatchPassesThroughOutcome(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{
		outcome: types.Outcome{Status: types.StatusPassed, Detail: "ok"},
	}, DispatcherConfig{})

	res := d.Dispatch(context.Background(), newTestStep("probe"))
	assert.Equal(t, types.StatusPassed, res.Status)
	assert.Equal(t, "ok", res.Message)
	require.NotNil(t, res.Outcome)
	assert.False(t, res.TimedOut)
}

func TestDispatchAgentErrorIsIsolated(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{
		err: errors.New("connection refused"),
	}, DispatcherConfig{})

	res := d.Dispatch(context.Background(), newTestStep("probe"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "connection refused")
	assert.ErrorContains(t, res.Err, "connection refused")
}

func TestDispatchRecoversAgentPanic(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{panicMsg: "nil map write"}, DispatcherConfig{})

	res := d.Dispatch(context.Background(), newTestStep("probe"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "agent panic")
	assert.Contains(t, res.Message, "nil map write")
}

func TestDispatchRejectsNonTerminalOutcome(t *testing.T) {
	d := newTestDispatcher(t, &fakeAgent{
		outcome: types.Outcome{Status: types.StatusRunning},
	}, DispatcherConfig{})

	res := d.Dispatch(context.Background(), newTestStep("probe"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "non-terminal")
}

func TestDispatchTimeoutIsUnconditional(t *testing.T) {
	ag := &fakeAgent{release: make(chan struct{})}
	d := newTestDispatcher(t, ag, DispatcherConfig{})
	defer close(ag.release)

	step := newTestStep("slow")
	step.Timeout = 20 * time.Millisecond

	res := d.Dispatch(context.Background(), step)
	assert.Equal(t, types.StatusError, res.Status)
	assert.True(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, ErrDispatchTimeout)
	assert.True(t, ag.cancelled.Load(), "timed-out agent must be told to stop")
}

func TestDispatchRunCancellationWaitsForGracefulReply(t *testing.T) {
	ag := &fakeAgent{
		release:       make(chan struct{}),
		replyOnCancel: true,
		outcome:       types.Outcome{Status: types.StatusSkipped, Detail: "stopped mid-flight"},
	}
	d := newTestDispatcher(t, ag, DispatcherConfig{CancelGrace: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := d.Dispatch(ctx, newTestStep("cancellable"))
	assert.Equal(t, types.StatusSkipped, res.Status)
	assert.True(t, ag.cancelled.Load())
}

func TestDispatchRunCancellationGraceExpires(t *testing.T) {
	ag := &fakeAgent{release: make(chan struct{})}
	d := newTestDispatcher(t, ag, DispatcherConfig{CancelGrace: 20 * time.Millisecond})
	defer close(ag.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Dispatch(ctx, newTestStep("stuck"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.True(t, ag.cancelled.Load())
}

func TestDispatchResolutionFailure(t *testing.T) {
	reg := registry.NewRegistry(registry.Config{})
	d, err := NewDispatcher(DispatcherConfig{Resolver: registry.NewResolver(reg, nil)})
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), newTestStep("orphan"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.True(t, registry.IsUnsatisfiable(res.Err))
}

func TestDispatchRejectsNonAgentBinding(t *testing.T) {
	reg := registry.NewRegistry(registry.Config{})
	require.NoError(t, reg.Register(registry.Factory{
		Name:      "not-an-agent",
		Declares:  constraint.MustSet(constraint.Equals(constraint.TraitInterface, "cli")),
		Construct: func() (any, error) { return fmt.Sprintf, nil },
	}))
	d, err := NewDispatcher(DispatcherConfig{Resolver: registry.NewResolver(reg, nil)})
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), newTestStep("probe"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Message, "not an agent")
}

func TestDispatchExpectedStatuses(t *testing.T) {
	tests := []struct {
		name     string
		raw      types.Status
		expected []types.Status
		want     types.Status
	}{
		{"no expectation keeps raw pass", types.StatusPassed, nil, types.StatusPassed},
		{"no expectation keeps raw fail", types.StatusFailed, nil, types.StatusFailed},
		{"expected fail maps to pass", types.StatusFailed, []types.Status{types.StatusFailed}, types.StatusPassed},
		{"unexpected pass maps to fail", types.StatusPassed, []types.Status{types.StatusFailed}, types.StatusFailed},
		{"membership in expected set", types.StatusSkipped, []types.Status{types.StatusFailed, types.StatusSkipped}, types.StatusPassed},
		{"expected pass stays pass", types.StatusPassed, []types.Status{types.StatusPassed}, types.StatusPassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t, &fakeAgent{
				outcome: types.Outcome{Status: tt.raw},
			}, DispatcherConfig{})

			step := newTestStep("expectations")
			step.Expected = tt.expected

			res := d.Dispatch(context.Background(), step)
			assert.Equal(t, tt.want, res.Status)
			require.NotNil(t, res.Outcome)
			assert.Equal(t, tt.raw, res.Outcome.Status)
		})
	}
}

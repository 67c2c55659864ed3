package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/types"
)

func TestTrackerDeliversInSequenceOrder(t *testing.T) {
	tracker := NewTracker(nil, 0)
	events := tracker.Subscribe()

	step := types.NewStep("s", types.Action{Name: "noop"}, constraint.Set{})
	step.Bind(false, tracker.Observe)

	tracker.Observe(step, types.StatusPending, types.StatusRunning)
	tracker.Observe(step, types.StatusRunning, types.StatusPassed)
	tracker.Complete(step)

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	require.Len(t, collected, 3)
	assert.Equal(t, uint64(1), collected[0].Seq)
	assert.Equal(t, uint64(2), collected[1].Seq)
	assert.True(t, collected[2].Final)
	assert.Same(t, step, collected[2].Tree)
}

func TestTrackerDiscardsAfterComplete(t *testing.T) {
	tracker := NewTracker(nil, 0)
	events := tracker.Subscribe()

	step := types.NewStep("s", types.Action{Name: "noop"}, constraint.Set{})
	step.Bind(false, nil)

	tracker.Complete(step)
	tracker.Observe(step, types.StatusPending, types.StatusRunning)
	tracker.Complete(step)

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	require.Len(t, collected, 1)
	assert.True(t, collected[0].Final)
}

func TestTrackerLateSubscriberMissesEarlierEvents(t *testing.T) {
	tracker := NewTracker(nil, 0)

	step := types.NewStep("s", types.Action{Name: "noop"}, constraint.Set{})
	step.Bind(false, nil)
	tracker.Observe(step, types.StatusPending, types.StatusRunning)

	events := tracker.Subscribe()
	tracker.Observe(step, types.StatusRunning, types.StatusPassed)
	tracker.Complete(step)

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	require.Len(t, collected, 2)
	assert.Equal(t, uint64(2), collected[0].Seq)
}

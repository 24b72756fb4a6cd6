package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeByRun(t *testing.T) {
	bus := NewEventBus(4, nil)
	runCh, unsubRun := bus.Subscribe("run-1")
	allCh, unsubAll := bus.Subscribe("")
	defer unsubAll()

	bus.Publish(Event{Type: EventRunStarted, RunID: "run-1"})
	bus.Publish(Event{Type: EventRunStarted, RunID: "run-2"})

	got := <-runCh
	assert.Equal(t, "run-1", got.RunID)
	select {
	case e := <-runCh:
		t.Fatalf("unexpected event for other run: %+v", e)
	default:
	}

	assert.Equal(t, "run-1", (<-allCh).RunID)
	assert.Equal(t, "run-2", (<-allCh).RunID)

	unsubRun()
	unsubRun()
	_, open := <-runCh
	assert.False(t, open, "channel closes on unsubscribe")
	bus.Publish(Event{Type: EventRunCompleted, RunID: "run-1"})
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1, nil)
	ch, unsub := bus.Subscribe("r")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventStepStarted, RunID: "r"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, Event{Type: EventRunCompleted}.Terminal())
	assert.True(t, Event{Type: EventRunSuspended}.Terminal())
	assert.True(t, Event{Type: EventRunFailed}.Terminal())
	assert.False(t, Event{Type: EventStepCompleted}.Terminal())
}

func TestExecutor_PublishesToBus(t *testing.T) {
	bus := NewEventBus(32, nil)
	ch, unsub := bus.Subscribe("")
	defer unsub()

	wf := mustCommit(t, New("bus").Then(doubleStep("double")).Then(addOneStep("add")))
	res, err := NewExecutor(nil, WithEventSink(bus)).Run(context.Background(), wf, mustJSON(t, xIn{X: 1}), nil)
	require.NoError(t, err)

	var types []EventType
	for e := range ch {
		assert.Equal(t, res.RunID, e.RunID)
		types = append(types, e.Type)
		if e.Terminal() {
			break
		}
	}
	assert.Equal(t, []EventType{
		EventRunStarted,
		EventStepStarted, EventStepCompleted,
		EventStepStarted, EventStepCompleted,
		EventRunCompleted,
	}, types)
}

func TestMemoryHistoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		wfID := "wf-1"
		if id == "c" {
			wfID = "wf-2"
		}
		require.NoError(t, store.SaveRun(ctx, &RunRecord{
			RunID:      id,
			WorkflowID: wfID,
			Status:     RunStatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRuns(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID, "newest first")

	runs, err = store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c", runs[0].RunID)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, store.SaveRun(ctx, &RunRecord{RunID: "a", WorkflowID: "wf-1", Status: RunStatusFailed}))
	assert.Len(t, store.ListByStatus(RunStatusFailed), 1)
}

package workflow

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names a run lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunResumed    EventType = "run.resumed"
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventRunSuspended  EventType = "run.suspended"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
)

// Event is emitted by the executor while a run progresses.
type Event struct {
	Type       EventType       `json:"type"`
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	StepID     string          `json:"step_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Time       time.Time       `json:"time"`
}

// Terminal reports whether no further events follow for the run.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventRunSuspended, EventRunCompleted, EventRunFailed:
		return true
	}
	return false
}

// EventSink receives run events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f.
func (f EventSinkFunc) Publish(e Event) { f(e) }

// EventBus fans events out to subscribers of a run, or of all runs.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	nextID uint64
	buffer int
	logger *zap.Logger
}

// NewEventBus creates a bus whose subscriber channels hold buffer events.
func NewEventBus(buffer int, logger *zap.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe returns a channel of events for runID ("" for every run) and a
// function that unsubscribes and closes the channel.
func (b *EventBus) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[uint64]chan Event)
	}
	b.subs[runID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[runID], id)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e without blocking; slow subscribers miss events.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{e.RunID, ""} {
		for _, ch := range b.subs[key] {
			select {
			case ch <- e:
			default:
				b.logger.Debug("dropping event for slow subscriber",
					zap.String("run_id", e.RunID),
					zap.String("type", string(e.Type)),
				)
			}
		}
	}
}

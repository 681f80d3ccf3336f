package tasks

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event names published during a submit-and-poll chain.
const (
	EventSubmitted = "submitted"
	EventPending   = "pending"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCanceled  = "canceled"
)

// Event is one step of a task chain.
type Event struct {
	Name     string
	Endpoint string
	TaskID   string
	Attempt  int
	Err      error
}

// EventPublisher receives chain events. Implementations must be cheap and must
// not block; Publish is called from the polling goroutine.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Count returns how many events with the given name were published.
func (p *MemoryPublisher) Count(name string) int {
	n := 0
	for _, e := range p.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// LogPublisher writes events to a zerolog logger. Pending polls log at debug.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	var ev *zerolog.Event
	switch e.Name {
	case EventPending:
		ev = p.Log.Debug()
	case EventFailed:
		ev = p.Log.Warn()
	default:
		ev = p.Log.Info()
	}
	ev = ev.Str("event", e.Name).Str("task_id", e.TaskID)
	if e.Endpoint != "" {
		ev = ev.Str("endpoint", e.Endpoint)
	}
	if e.Attempt > 0 {
		ev = ev.Int("attempt", e.Attempt)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg("task")
}

package client

import (
	"sync"
	"time"

	"github.com/mkorolik/relayexec/internal/strategy"
)

// EventKind labels progress/status stream entries.
type EventKind string

const (
	EventEnqueued        EventKind = "enqueued"
	EventItemStarted     EventKind = "item_started"
	EventItemCompleted   EventKind = "item_completed"
	EventItemFailed      EventKind = "item_failed"
	EventItemCancelled   EventKind = "item_cancelled"
	EventScenarioChanged EventKind = "scenario_changed"
)

// Event is one progress or status update.
type Event struct {
	Kind     EventKind
	At       time.Time
	ItemID   string
	Target   string
	Command  string
	Scenario strategy.Scenario
	Message  string
}

// bus fans events out to subscribers without ever blocking a
// publisher: a slow consumer drops updates rather than stalling the
// worker or the controller.
type bus struct {
	mu     sync.Mutex
	subs   map[int64]chan Event
	nextID int64
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int64]chan Event)}
}

func (b *bus) subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return 0, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return id, ch
}

func (b *bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *bus) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

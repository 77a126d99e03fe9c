package queue

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorded on items cancelled before the worker claimed them.
const cancelledError = "cancelled before dispatch"

// Queue is the owned, in-process view of the durable work queue.
// Construct one per process and pass it by reference; all mutations go
// through it and are persisted through the Store.
type Queue struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	items   []*Item
	index   map[string]*Item
	nextSeq uint64
}

// Open loads persisted state and recovers interrupted work: any item
// found in processing state was in flight during a previous run and is
// reset to pending, since the worker never assumes clean shutdown.
func Open(store Store, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	items, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	q := &Queue{
		store:  store,
		logger: logger,
		items:  items,
		index:  make(map[string]*Item, len(items)),
	}
	for _, item := range items {
		q.index[item.ID] = item
		if item.Sequence >= q.nextSeq {
			q.nextSeq = item.Sequence + 1
		}
		if item.Status == StatusProcessing {
			item.Status = StatusPending
			item.StartedAt = nil
			q.persist(item)
			logger.Info("recovered interrupted item", "id", item.ID, "seq", item.Sequence)
		}
	}
	return q, nil
}

// Enqueue appends a command at the tail with the next sequence number
// and returns immediately; it never blocks on network I/O.
func (q *Queue) Enqueue(target, command string) *Item {
	q.mu.Lock()
	item := &Item{
		ID:         uuid.NewString(),
		Sequence:   q.nextSeq,
		Target:     target,
		Command:    command,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
	}
	q.nextSeq++
	q.items = append(q.items, item)
	q.index[item.ID] = item
	q.persist(item)
	out := *item
	q.mu.Unlock()
	return &out
}

// DequeueNext claims the lowest-sequence pending item for the worker,
// moving it to processing. Returns nil when nothing is pending.
func (q *Queue) DequeueNext() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Status != StatusPending {
			continue
		}
		now := time.Now()
		item.Status = StatusProcessing
		item.StartedAt = &now
		q.persist(item)
		out := *item
		return &out
	}
	return nil
}

// MarkCompleted records a successful result.
func (q *Queue) MarkCompleted(id, result string) bool {
	return q.finish(id, StatusCompleted, result, "")
}

// MarkFailed records a failure. Failures never propagate to the
// enqueuer; they live on the item for status queries.
func (q *Queue) MarkFailed(id, errMsg string) bool {
	return q.finish(id, StatusFailed, "", errMsg)
}

// Cancel is cooperative and best-effort: it only takes effect on items
// the worker has not claimed yet. An item already dispatched runs to
// completion.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.index[id]
	if !ok || item.Status != StatusPending {
		return false
	}
	now := time.Now()
	item.Status = StatusFailed
	item.Error = cancelledError
	item.CompletedAt = &now
	q.persist(item)
	return true
}

// Get returns a copy of the item.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.index[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns copies of all items in sequence order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// Status summarizes item counts per state.
func (q *Queue) Status() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Summary{Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Close flushes the backing store.
func (q *Queue) Close() error {
	return q.store.Close()
}

func (q *Queue) finish(id string, status Status, result, errMsg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.index[id]
	if !ok || item.Terminal() {
		return false
	}
	now := time.Now()
	item.Status = status
	item.Result = result
	item.Error = errMsg
	item.CompletedAt = &now
	q.persist(item)
	return true
}

// persist writes through to the store. A write failure is logged and
// the in-memory state kept: the item is not lost, only its latest
// transition may be replayed after a crash.
func (q *Queue) persist(item *Item) {
	if err := q.store.Put(item); err != nil {
		q.logger.Error("queue persist", "id", item.ID, "err", err)
	}
}

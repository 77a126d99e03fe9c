// Package queue provides a durable, ordered work queue with
// at-least-once processing across restarts: one producer, one worker,
// state persisted on every mutation.
package queue

import "time"

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item is one persisted unit of work. Sequence fixes FIFO order.
type Item struct {
	ID          string     `json:"id"`
	Sequence    uint64     `json:"sequence"`
	Target      string     `json:"target"`
	Command     string     `json:"command"`
	Status      Status     `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Terminal reports whether the item reached a final state.
func (i *Item) Terminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// Summary is an aggregate view of the queue for status queries.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

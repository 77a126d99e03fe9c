package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleSleep is how long the worker naps when the queue is
// empty, instead of busy-waiting.
const DefaultIdleSleep = 100 * time.Millisecond

// RunFunc executes one claimed item and returns its output. The worker
// records the outcome; it never propagates the error to callers.
type RunFunc func(ctx context.Context, item Item) (string, error)

// ItemFunc observes an item reaching a terminal state.
type ItemFunc func(item Item)

// Worker is the single background consumer draining the queue strictly
// in sequence order, one item at a time. Cancellation is observed only
// between items, never mid-call.
type Worker struct {
	queue     *Queue
	run       RunFunc
	onDone    ItemFunc
	idleSleep time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a worker over the queue. onDone may be nil.
func NewWorker(q *Queue, run RunFunc, onDone ItemFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		queue:     q,
		run:       run,
		onDone:    onDone,
		idleSleep: DefaultIdleSleep,
		logger:    logger,
	}
}

// Start launches the worker loop. The worker is owned by its starter:
// call Stop to join it during shutdown.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop cancels the loop and waits for the current item, if any, to
// finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	timer := time.NewTimer(w.idleSleep)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		item := w.queue.DequeueNext()
		if item == nil {
			timer.Reset(w.idleSleep)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}
		w.process(ctx, *item)
	}
}

// process runs one item to a terminal state. Failures become item
// state, visible via status queries; they never halt the loop.
func (w *Worker) process(ctx context.Context, item Item) {
	w.logger.Info("processing queue item", "id", item.ID, "seq", item.Sequence)
	result, err := w.run(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the call, not the command itself.
			// Leave the item in processing: the next Open resets it to
			// pending and it is redelivered, never dropped.
			w.logger.Info("queue item interrupted by shutdown, will be redelivered",
				"id", item.ID, "seq", item.Sequence)
			return
		}
		w.queue.MarkFailed(item.ID, err.Error())
		w.logger.Warn("queue item failed", "id", item.ID, "err", err)
	} else {
		w.queue.MarkCompleted(item.ID, result)
		w.logger.Info("queue item completed", "id", item.ID)
	}
	if w.onDone != nil {
		if done, ok := w.queue.Get(item.ID); ok {
			w.onDone(done)
		}
	}
}

// Package worker provides a bounded in-process queue with a single consumer.
// Producers never block: when the buffer is full the item is dropped and
// counted. On shutdown the consumer drains what is left, bounded by a timeout.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/betledger/internal/metrics"
)

// Handler processes one queued item. Errors are logged, never retried.
type Handler[T any] func(ctx context.Context, item T) error

// Queue is a bounded FIFO drained by one goroutine started with Run.
type Queue[T any] struct {
	name         string
	ch           chan T
	handle       Handler[T]
	drainTimeout time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding at most size items.
func NewQueue[T any](name string, size int, drainTimeout time.Duration, handle Handler[T], logger *slog.Logger) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{
		name:         name,
		ch:           make(chan T, size),
		handle:       handle,
		drainTimeout: drainTimeout,
		logger:       logger.With("component", "queue", "queue", name),
	}
}

// Submit enqueues item without blocking. It returns false when the item was
// dropped because the queue is full or already shut down.
func (q *Queue[T]) Submit(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.QueueDropped.WithLabelValues(q.name).Inc()
		return false
	}
	select {
	case q.ch <- item:
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		return true
	default:
		metrics.QueueDropped.WithLabelValues(q.name).Inc()
		q.logger.Warn("queue full, item dropped", "capacity", cap(q.ch))
		return false
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Run consumes items until ctx is cancelled, then stops accepting new items
// and drains the buffer for at most the drain timeout. It always returns nil
// so it can sit in an errgroup next to the servers.
func (q *Queue[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return nil
		case item := <-q.ch:
			q.process(ctx, item)
		}
	}
}

func (q *Queue[T]) drain() {
	q.mu.Lock()
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.drainTimeout)
	defer cancel()

	drained := 0
	for item := range q.ch {
		if ctx.Err() != nil {
			left := len(q.ch) + 1
			metrics.QueueDropped.WithLabelValues(q.name).Add(float64(left))
			q.logger.Warn("drain timeout, items discarded", "drained", drained, "discarded", left)
			return
		}
		q.process(ctx, item)
		drained++
	}
	metrics.QueueDepth.WithLabelValues(q.name).Set(0)
	q.logger.Info("queue drained", "items", drained)
}

func (q *Queue[T]) process(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("PANIC recovered in queue handler", "panic", r)
		}
	}()
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
	if err := q.handle(ctx, item); err != nil {
		q.logger.Warn("queue handler failed", "error", err)
	}
}

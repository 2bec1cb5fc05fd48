package peer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// Target is anything that can forward a message.
type Target interface {
	Forward(ctx context.Context, message string)
}

// Queue decouples forwarding from the caller: Forward enqueues onto a
// bounded buffer drained by a single worker, and drops the message when the
// buffer is full. Order is preserved for messages that are not dropped.
type Queue struct {
	next    Target
	ch      chan string
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewQueue starts the worker. size must be positive.
func NewQueue(next Target, size int, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		next:    next,
		ch:      make(chan string, size),
		metrics: m,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for message := range q.ch {
		q.next.Forward(context.Background(), message)
	}
}

// Forward enqueues message without waiting for the peer.
func (q *Queue) Forward(_ context.Context, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		slog.Debug("Forward queue closed, dropping message")
		q.metrics.ForwardDone(metrics.ForwardDropped, 0)
		return
	}

	select {
	case q.ch <- message:
	default:
		slog.Warn("Forward queue full, dropping message", "capacity", cap(q.ch))
		q.metrics.ForwardDone(metrics.ForwardDropped, 0)
	}
}

// Close stops accepting messages and waits until queued ones are forwarded
// or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

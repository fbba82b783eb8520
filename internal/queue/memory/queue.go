// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan autopost.JobPayload
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan autopost.JobPayload, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, payload autopost.JobPayload) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- payload:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (autopost.JobPayload, error) {
	select {
	case <-ctx.Done():
		return autopost.JobPayload{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case payload, ok := <-q.ch:
		if !ok {
			return autopost.JobPayload{}, errors.New("queue closed")
		}
		return payload, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

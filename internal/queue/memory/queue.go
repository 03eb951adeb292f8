// Package memory provides the in-process queue that connects the producer to
// the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained,
// and by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO with context-aware operations. Enqueue never
// blocks on capacity. Every dequeued item must be acknowledged with Done.
type Queue struct {
	mu      sync.Mutex
	items   []crawler.QueueItem
	ready   chan struct{}
	closed  bool
	pending int
	idle    chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ready: make(chan struct{}),
		idle:  idle,
	}
}

// Enqueue appends an item and wakes any blocked consumers.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	if !item.Valid() {
		return errors.New("enqueue: item is neither work nor shutdown")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Dequeue pops the oldest item, blocking until one is available, the context
// ends, or the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = crawler.QueueItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.QueueItem{}, ErrQueueClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ready:
		}
	}
}

// Done acknowledges one previously dequeued item.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		panic("memory queue: Done called more times than items were enqueued")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Wait blocks until every enqueued item has been acknowledged.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue wait canceled: %w", ctx.Err())
	case <-idle:
		return nil
	}
}

// Len returns the number of items waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Items already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

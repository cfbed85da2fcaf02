package queue

import (
	"context"
	"fmt"
	"sync"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// FIFO is an in-memory queue with a single consumer. A capacity of zero
// means unbounded. It is safe for concurrent producers.
type FIFO struct {
	mu       sync.Mutex
	items    []Item
	head     int
	capacity int
	closed   bool
	notify   chan struct{}
}

// NewFIFO creates a FIFO. capacity <= 0 means unbounded.
func NewFIFO(capacity int) *FIFO {
	if capacity < 0 {
		capacity = 0
	}
	return &FIFO{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Put appends an item. It never blocks.
func (q *FIFO) Put(it Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ferrors.ErrQueueClosed
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.mu.Unlock()
		return ferrors.ErrQueueFull
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Send implements Sender. Records are prepared for transport first so the
// in-process path enforces the same invariants as the socket path.
func (q *FIFO) Send(ctx context.Context, f record.Frame) error {
	if err := ctx.Err(); err != nil {
		return ferrors.NewShutdownError(err)
	}
	if !f.IsSentinel() {
		if f.Record == nil {
			return fmt.Errorf("%w: record frame without record", ferrors.ErrEncodeRecord)
		}
		f.Record.PrepareForQueue()
	}
	return q.Put(itemFromFrame(f, "local"))
}

// Receive implements Receiver. It returns ErrQueueClosed once the queue is
// closed and empty, and the context error if ctx ends first.
func (q *FIFO) Receive(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			it := q.items[q.head]
			q.items[q.head] = Item{}
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			}
			q.mu.Unlock()
			return it, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Item{}, ferrors.ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *FIFO) lenLocked() int {
	return len(q.items) - q.head
}

// Close stops accepting new items. Items already queued can still be received.
func (q *FIFO) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

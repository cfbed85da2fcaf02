// Package queue implements the aggregation queue: the only channel between
// producer processes and the listener.
//
// # Main Types
//
//   - [Sender]: producer side, non-blocking send of frames
//   - [Receiver]: listener side, blocking receive of items
//   - [FIFO]: in-memory unbounded queue, usable in-process and as the
//     listener-side buffer behind [Server]
//   - [Endpoint]: the Unix domain socket the coordinator creates before any
//     process starts
//   - [Server]: accepts producer connections and funnels every frame into one
//     FIFO, enforcing that the sentinel is delivered last
//   - [Client]: a producer's connection with a bounded local buffer
//
// # Ordering
//
// Frames from one producer are delivered in the order they were sent. There
// is no ordering guarantee across producers beyond arrival order.
package queue

import (
	"context"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Item is what the listener receives: a record, the sentinel, or a frame that
// could not be decoded.
type Item struct {
	Record   *record.Record
	Sentinel bool
	// Err is set for malformed frames and broken producer streams.
	Err error
	// Source labels the connection the item arrived on.
	Source string
}

// Sender pushes frames onto the queue without blocking indefinitely.
type Sender interface {
	Send(ctx context.Context, f record.Frame) error
}

// Receiver pulls items off the queue, blocking until one is available.
type Receiver interface {
	Receive(ctx context.Context) (Item, error)
}

// itemFromFrame converts a decoded frame to an Item.
func itemFromFrame(f record.Frame, source string) Item {
	if f.IsSentinel() {
		return Item{Sentinel: true, Source: source}
	}
	return Item{Record: f.Record, Source: source}
}

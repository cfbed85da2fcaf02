package queue

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// DefaultDialTimeout bounds Dial when ClientOptions.DialTimeout is unset.
const DefaultDialTimeout = 2 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// BufferSize caps the encoded frames held locally; Send returns
	// ErrQueueFull once the cap is reached. Zero means unbounded.
	BufferSize int
	// DialTimeout bounds the initial connection. A dead listener fails fast.
	DialTimeout time.Duration
	// Fallback receives write failures detected by the background writer.
	Fallback *logging.Fallback
	// Name labels diagnostics.
	Name string
}

// Client is a producer's connection to the aggregation queue. Send never
// blocks on the socket: frames are staged in a local buffer drained by a
// single writer goroutine, which preserves send order.
type Client struct {
	conn net.Conn
	opts ClientOptions

	mu      sync.Mutex
	closed  bool
	pending [][]byte
	wake    chan struct{}
	done    chan struct{}

	broken   atomic.Bool
	writeErr error // set by the writer before done is closed
	dropped  atomic.Int64
}

// Dial connects to the queue socket at addr.
func Dial(ctx context.Context, addr string, opts ClientOptions) (*Client, error) {
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Name == "" {
		opts.Name = "producer"
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ferrors.ErrQueueUnavailable, addr, err)
	}

	c := &Client{
		conn: conn,
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// Send implements Sender. It returns ErrQueueFull only when a BufferSize cap
// is set and reached, ErrQueueUnavailable once the connection has failed and
// ErrQueueClosed after Close. A cancelled ctx is returned as a shutdown error.
func (c *Client) Send(ctx context.Context, f record.Frame) error {
	if err := ctx.Err(); err != nil {
		return ferrors.NewShutdownError(err)
	}

	data, err := record.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ferrors.ErrQueueClosed
	case c.broken.Load():
		c.mu.Unlock()
		return ferrors.ErrQueueUnavailable
	case c.opts.BufferSize > 0 && len(c.pending) >= c.opts.BufferSize:
		c.mu.Unlock()
		return ferrors.ErrQueueFull
	}
	c.pending = append(c.pending, data)
	c.mu.Unlock()

	c.signal()
	return nil
}

// Pending returns the number of frames buffered but not yet handed to the
// writer.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take removes every staged frame. ok is false once the client is closed
// and nothing is left to write.
func (c *Client) take() (batch [][]byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch = c.pending
	c.pending = nil
	return batch, len(batch) > 0 || !c.closed
}

// Dropped returns the number of buffered frames discarded after a write
// failure.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Close flushes buffered frames and closes the connection. If ctx ends before
// the flush completes the connection is closed anyway and a TimeoutError (or
// the context error) is returned. The first write failure, if any, is
// returned otherwise. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.signal()

	started := time.Now()
	var flushErr error
	select {
	case <-c.done:
	case <-ctx.Done():
		// Unblock a writer stuck on a full socket.
		_ = c.conn.Close()
		<-c.done
		if ctx.Err() == context.DeadlineExceeded {
			flushErr = ferrors.NewTimeoutError("queue flush", time.Since(started)).WithCause(ctx.Err())
		} else {
			flushErr = ferrors.NewShutdownError(ctx.Err())
		}
	}

	closeErr := c.conn.Close()

	if n := c.dropped.Load(); n > 0 {
		c.opts.Fallback.Reportf("%s: %d buffered record(s) lost after queue write failure", c.opts.Name, n)
	}
	if flushErr != nil {
		return flushErr
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	if closeErr != nil && !isClosedConn(closeErr) {
		return fmt.Errorf("close queue connection: %w", closeErr)
	}
	return nil
}

func (c *Client) writeLoop() {
	defer close(c.done)

	w := bufio.NewWriter(c.conn)
	for {
		batch, ok := c.take()
		if !ok {
			return
		}
		if len(batch) == 0 {
			<-c.wake
			continue
		}
		for _, data := range batch {
			if c.broken.Load() {
				c.dropped.Add(1)
				continue
			}
			if _, err := w.Write(data); err != nil {
				c.fail(err)
			}
		}
		if !c.broken.Load() {
			if err := w.Flush(); err != nil {
				c.fail(err)
			}
		}
	}
}

func (c *Client) fail(err error) {
	if c.broken.Swap(true) {
		return
	}
	c.writeErr = fmt.Errorf("%w: write: %v", ferrors.ErrQueueUnavailable, err)
	c.dropped.Add(1)
	c.opts.Fallback.Report(c.opts.Name, c.writeErr)
}

func isClosedConn(err error) bool {
	return ferrors.Is(err, net.ErrClosed)
}

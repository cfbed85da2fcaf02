// Package emitter implements the queue-backed emitter that every producer
// process attaches to its top-level logger. It is the only handler a
// producer has: records are pushed onto the aggregation queue and the
// listener performs all real output.
package emitter

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// DefaultFlushTimeout bounds how long closing an emitter waits for buffered
// records to reach the queue.
const DefaultFlushTimeout = 5 * time.Second

// Options configures an Emitter.
type Options struct {
	// ProcessName and PID stamp every record. They default to the
	// executable name and os.Getpid().
	ProcessName string
	PID         int
	// Level is the producer-side threshold. Records below it are never
	// built. Defaults to DEBUG.
	Level record.Level
	// FlushTimeout bounds Close. Defaults to DefaultFlushTimeout.
	FlushTimeout time.Duration
	// Fallback receives recoverable emission failures.
	Fallback *logging.Fallback
}

func (o Options) withDefaults() Options {
	if o.ProcessName == "" {
		o.ProcessName = filepath.Base(os.Args[0])
	}
	if o.PID == 0 {
		o.PID = os.Getpid()
	}
	if !o.Level.Valid() {
		o.Level = record.LevelDebug
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
	return o
}

// flushCloser is implemented by senders that own a connection, such as
// *queue.Client. Shared in-memory queues are not closed by an emitter.
type flushCloser interface {
	Close(ctx context.Context) error
}

// Emitter pushes records onto the aggregation queue without blocking.
type Emitter struct {
	sender queue.Sender
	opts   Options

	closed  atomic.Bool
	emitted atomic.Int64
	failed  atomic.Int64
}

// New creates an Emitter sending to sender.
func New(sender queue.Sender, opts Options) *Emitter {
	return &Emitter{sender: sender, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Emitter) Options() Options {
	return e.opts
}

// Emit renders r's failure context into text, clears the raw context and
// pushes r onto the queue. Recoverable failures come back as *EmitError;
// process-control failures (errors.IsShutdown) come back unchanged.
func (e *Emitter) Emit(ctx context.Context, r *record.Record) error {
	if r == nil {
		return ferrors.NewValidationError("record is required").WithField("record")
	}
	if r.ProcessName == "" {
		r.ProcessName = e.opts.ProcessName
	}
	if r.PID == 0 {
		r.PID = e.opts.PID
	}
	r.PrepareForQueue()

	if e.closed.Load() {
		e.failed.Add(1)
		return ferrors.NewEmitError("emitter closed", ferrors.ErrQueueClosed).
			WithProcess(r.ProcessName).WithLogger(r.DisplayName())
	}

	err := e.sender.Send(ctx, record.RecordFrame(r))
	if err == nil {
		e.emitted.Add(1)
		return nil
	}
	if !ferrors.IsRecoverable(err) {
		return err
	}
	e.failed.Add(1)
	return ferrors.NewEmitError("failed to enqueue record", err).
		WithProcess(r.ProcessName).WithLogger(r.DisplayName())
}

// Emitted returns the number of records accepted by the queue.
func (e *Emitter) Emitted() int64 {
	return e.emitted.Load()
}

// Failed returns the number of records that could not be enqueued.
func (e *Emitter) Failed() int64 {
	return e.failed.Load()
}

// Close stops accepting records and flushes the sender if it owns a
// connection. Further Emit calls fail with ErrQueueClosed.
func (e *Emitter) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	fc, ok := e.sender.(flushCloser)
	if !ok {
		return nil
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.FlushTimeout)
		defer cancel()
	}
	return fc.Close(ctx)
}

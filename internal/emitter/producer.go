package emitter

import (
	"context"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// ConfigureFunc is the producer configuration callable: given the queue, it
// returns the producer's top-level logger with exactly one queue-backed
// handler attached.
type ConfigureFunc func(sender queue.Sender) *logging.Logger

// Configure attaches a queue-backed handler to a new top-level logger.
// Closing the logger closes the emitter, flushing buffered records.
func Configure(sender queue.Sender, opts Options) *logging.Logger {
	em := New(sender, opts)
	return logging.NewWithCloser(NewHandler(em), closerFunc(func() error {
		return em.Close(context.Background())
	}))
}

// ConfigureWith returns a ConfigureFunc bound to opts.
func ConfigureWith(opts Options) ConfigureFunc {
	return func(sender queue.Sender) *logging.Logger {
		return Configure(sender, opts)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Body is the work a producer does with its configured logger.
type Body func(ctx context.Context, log *logging.Logger) error

// ProducerOptions configures Produce.
type ProducerOptions struct {
	// Name is the producer's process name, stamped on every record.
	Name string
	// Addr is the aggregation queue socket.
	Addr string
	// Level is the producer-side threshold.
	Level record.Level
	// BufferSize caps the local send buffer, in records. Zero means unbounded.
	BufferSize int
	// DialTimeout bounds connecting to the queue.
	DialTimeout time.Duration
	// FlushTimeout bounds the final flush.
	FlushTimeout time.Duration
	// Fallback receives emission and flush failures.
	Fallback *logging.Fallback
}

// Produce runs the producer role: connect to the queue, configure the
// top-level logger, run body, then flush and close the emitter. The flush
// runs even when body fails or ctx is cancelled. Body's error is returned;
// flush failures are reported to the fallback.
func Produce(ctx context.Context, opts ProducerOptions, body Body) error {
	if opts.Addr == "" {
		return ferrors.NewValidationError("queue address is required").WithField("addr")
	}
	if body == nil {
		return ferrors.NewValidationError("producer body is required").WithField("body")
	}

	client, err := queue.Dial(ctx, opts.Addr, queue.ClientOptions{
		BufferSize:  opts.BufferSize,
		DialTimeout: opts.DialTimeout,
		Fallback:    opts.Fallback,
		Name:        opts.Name,
	})
	if err != nil {
		return ferrors.NewProcessError("failed to connect to aggregation queue", err).WithProcess(opts.Name)
	}

	log := Configure(client, Options{
		ProcessName:  opts.Name,
		Level:        opts.Level,
		FlushTimeout: opts.FlushTimeout,
		Fallback:     opts.Fallback,
	})

	bodyErr := runBody(ctx, opts.Name, log, body)

	if err := log.Close(); err != nil {
		opts.Fallback.Report(opts.Name, ferrors.Wrap(err, "flush on exit"))
	}
	return bodyErr
}

// runBody converts a panic in body into an error so the emitter still
// flushes.
func runBody(ctx context.Context, name string, log *logging.Logger, body Body) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.NewProcessError("producer body panicked", nil).
				WithSeverity(ferrors.SeverityCritical).
				WithProcess(name)
			log.Criticalf("producer body panicked: %v", r)
		}
	}()
	return body(ctx, log)
}

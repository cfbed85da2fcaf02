package listener

import (
	"context"
	"net"
	"os"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/sink"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	// Listener is the queue socket handed over by the coordinator.
	Listener net.Listener
	// Configure attaches the sink handlers.
	Configure sink.ConfigureFunc
	// DrainTimeout bounds the wait for producers after the sentinel.
	DrainTimeout time.Duration
	// MetricsAddr serves Prometheus metrics while the listener runs.
	MetricsAddr string
	// Metrics is used instead of a fresh collector set when non-nil.
	Metrics *Metrics
	// Fallback receives diagnostics.
	Fallback *logging.Fallback
	// Bus receives lifecycle events. Optional.
	Bus *event.Bus
}

// Serve runs the listener role: accept producer connections on the queue
// socket, drain them through a Loop until the sentinel, then shut the
// socket down.
func Serve(ctx context.Context, opts ServeOptions) error {
	if opts.Listener == nil {
		return ferrors.NewValidationError("queue listener is required").WithField("listener")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	srv := queue.NewServer(opts.Listener, queue.ServerOptions{
		DrainTimeout:  opts.DrainTimeout,
		Fallback:      opts.Fallback,
		OnConnections: metrics.connections,
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- srv.Serve(serveCtx) }()

	if opts.MetricsAddr != "" {
		go func() {
			if err := metrics.ListenAndServe(serveCtx, opts.MetricsAddr); err != nil {
				opts.Fallback.Report("listener", err)
			}
		}()
	}

	loop := NewLoop(srv, LoopOptions{
		Configure: opts.Configure,
		Fallback:  opts.Fallback,
		Bus:       opts.Bus,
		Metrics:   metrics,
	})
	err := loop.Run(ctx)

	cancel()
	if cerr := srv.Close(); cerr != nil {
		opts.Fallback.Report("listener", ferrors.Wrap(cerr, "closing queue socket"))
	}
	if aerr := <-acceptErr; aerr != nil && err == nil {
		err = aerr
	}
	return err
}

// ServeFile is Serve for a listener inherited as a file descriptor.
func ServeFile(ctx context.Context, f *os.File, opts ServeOptions) error {
	ln, err := queue.ListenerFromFile(f)
	if err != nil {
		return err
	}
	opts.Listener = ln
	return Serve(ctx, opts)
}

// Package listener implements the single process that drains the
// aggregation queue and dispatches records to the real sink handlers.
//
// The loop has three states. Configuring applies the sink configuration
// exactly once. Draining blocks on the queue and dispatches each record to
// its logger in the registry, with no level re-evaluation. The sentinel
// moves it to Stopping, which flushes and closes every handler. A bad item
// or a failing handler is reported to the fallback and never stops the
// drain.
package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/sink"
)

// LoopOptions configures a Loop.
type LoopOptions struct {
	// Configure attaches the sink handlers. It is invoked exactly once.
	Configure sink.ConfigureFunc
	// Registry is the logger registry to configure. Nil means a new one
	// with the default last-resort handler.
	Registry *sink.Registry
	// Fallback receives dispatch failures.
	Fallback *logging.Fallback
	// Bus receives state transitions and dispatch failures. Optional.
	Bus *event.Bus
	// Metrics counts dispatches and failures. Optional.
	Metrics *Metrics
}

// Stats are the loop's counters.
type Stats struct {
	Dispatched int64
	Malformed  int64
	Failed     int64
}

// Loop drains a queue into a sink registry.
type Loop struct {
	q    queue.Receiver
	opts LoopOptions

	mu    sync.Mutex
	state State
	ran   bool

	dispatched atomic.Int64
	malformed  atomic.Int64
	failed     atomic.Int64
}

// NewLoop creates a loop reading from q.
func NewLoop(q queue.Receiver, opts LoopOptions) *Loop {
	return &Loop{q: q, opts: opts}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Dispatched: l.dispatched.Load(),
		Malformed:  l.malformed.Load(),
		Failed:     l.failed.Load(),
	}
}

// Run configures the sinks, drains the queue until the sentinel, then
// closes every handler. It returns nil after a sentinel, a *ShutdownError
// when ctx ends first, and ErrQueueClosed when the queue closes without a
// sentinel. Handlers are closed in every case. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.ran {
		l.mu.Unlock()
		return ferrors.NewValidationError("listener loop already ran")
	}
	l.ran = true
	l.mu.Unlock()

	reg := l.opts.Registry
	if reg == nil {
		reg = sink.NewRegistry(sink.RegistryOptions{})
	}

	l.transition(StateConfiguring)
	l.configure(reg)

	l.transition(StateDraining)
	err := l.drain(ctx, reg)

	l.transition(StateStopping)
	if cerr := reg.Close(); cerr != nil {
		l.opts.Metrics.failed(FailureClose)
		l.opts.Fallback.Report("listener", ferrors.Wrap(cerr, "closing sink handlers"))
	}
	return err
}

func (l *Loop) transition(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()
	l.opts.Bus.Publish(event.NewListenerStateEvent(from.String(), to.String()))
}

// configure runs the configuration callable. A failure is reported and the
// loop drains with whatever handlers were attached, plus the last resort.
func (l *Loop) configure(reg *sink.Registry) {
	if l.opts.Configure == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("configuration panicked: %v", r)
			}
		}()
		return l.opts.Configure(reg)
	}()
	if err != nil {
		l.opts.Metrics.failed(FailureConfigure)
		l.opts.Fallback.Report("listener", ferrors.Wrap(err, "sink configuration failed"))
	}
}

func (l *Loop) drain(ctx context.Context, reg *sink.Registry) error {
	for {
		it, err := l.q.Receive(ctx)
		if err != nil {
			if ferrors.Is(err, ferrors.ErrQueueClosed) {
				l.opts.Fallback.Reportf("listener: queue closed before the sentinel arrived")
				return err
			}
			return ferrors.NewShutdownError(err)
		}

		switch {
		case it.Sentinel:
			l.opts.Metrics.sentinel()
			return nil
		case it.Err != nil:
			l.malformed.Add(1)
			l.reportFailure(FailureMalformed, ferrors.NewDispatchError("dropped item from "+it.Source, it.Err))
		case it.Record != nil:
			l.dispatch(reg, it)
		}
	}
}

func (l *Loop) dispatch(reg *sink.Registry, it queue.Item) {
	rec := it.Record
	if err := reg.Dispatch(rec); err != nil {
		l.failed.Add(1)
		l.reportFailure(FailureHandler, err)
		return
	}
	l.dispatched.Add(1)
	l.opts.Metrics.dispatched(rec.Level)
}

func (l *Loop) reportFailure(kind string, err error) {
	l.opts.Metrics.failed(kind)
	l.opts.Fallback.Report("listener", err)
	l.opts.Bus.Publish(event.NewDispatchFailedEvent(kind, err))
}

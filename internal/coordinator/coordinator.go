// Package coordinator runs the process lifecycle around the aggregation
// queue: create the queue, start the listener, start and join the
// producers, send the single shutdown sentinel, and join the listener.
package coordinator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/emitter"
	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/process"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

const (
	// DefaultJoinTimeout bounds the wait for the listener after the
	// sentinel.
	DefaultJoinTimeout = 30 * time.Second
	// DefaultDialTimeout bounds connecting the coordinator to the queue.
	DefaultDialTimeout = 5 * time.Second
	// DefaultProcessName stamps the coordinator's own records.
	DefaultProcessName = "MainProcess"

	source = "coordinator"
)

// Options configures a Coordinator.
type Options struct {
	Launcher Launcher
	// QueueDir holds the queue socket. Empty means a private temp dir.
	QueueDir string

	// ProcessName and Level configure the coordinator's own emitter.
	ProcessName string
	Level       record.Level

	BufferSize   int
	DialTimeout  time.Duration
	FlushTimeout time.Duration
	JoinTimeout  time.Duration

	// Fallback receives lifecycle failures that cannot go through the
	// queue.
	Fallback *logging.Fallback
	// Bus receives lifecycle events. Optional.
	Bus *event.Bus
}

// Result summarizes a run.
type Result struct {
	// Started lists the producers that launched, in launch order.
	Started []string
	// StartErrors holds the producers that failed to launch.
	StartErrors map[string]error
	// ProducerErrors holds the started producers that exited with an error.
	ProducerErrors map[string]error
	// SentinelErr is set when the sentinel could not be delivered.
	SentinelErr error
	// ListenerErr is the listener's exit error.
	ListenerErr error
}

// OK reports whether every producer and the listener finished cleanly.
func (r *Result) OK() bool {
	return len(r.StartErrors) == 0 && len(r.ProducerErrors) == 0 &&
		r.SentinelErr == nil && r.ListenerErr == nil
}

// Coordinator owns the aggregation queue for the duration of a run.
type Coordinator struct {
	opts Options

	mu     sync.Mutex
	result *Result
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.ProcessName == "" {
		opts.ProcessName = DefaultProcessName
	}
	if !opts.Level.Valid() {
		opts.Level = record.LevelDebug
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = emitter.DefaultFlushTimeout
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	return &Coordinator{opts: opts}
}

// Run executes one aggregation lifecycle for specs. A listener that cannot
// start is fatal. Producer start failures are reported and the rest keep
// running. Cancelling ctx stops every process and returns a ShutdownError.
func (c *Coordinator) Run(ctx context.Context, specs []ProducerSpec) (*Result, error) {
	if c.opts.Launcher == nil {
		return nil, ferrors.NewValidationError("launcher is required").WithField("launcher")
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	c.result = &Result{
		StartErrors:    make(map[string]error),
		ProducerErrors: make(map[string]error),
	}

	ep, err := queue.Create(c.opts.QueueDir)
	if err != nil {
		return nil, ferrors.Wrap(err, "failed to create aggregation queue")
	}
	defer func() {
		if cerr := ep.Close(); cerr != nil {
			c.opts.Fallback.Report(source, ferrors.Wrap(cerr, "closing aggregation queue"))
		}
	}()

	lp, err := c.startListener(ctx, ep)
	if err != nil {
		return c.snapshot(), err
	}

	log := c.attach(ctx, ep.Addr())
	log.Debug("top level logging configured", "producers", len(specs))

	started := c.startProducers(ctx, log, specs, ep.Addr())

	if err := c.joinProducers(ctx, log, started); err != nil {
		c.stopAll(append(started, lp))
		_ = log.Close()
		return c.snapshot(), err
	}
	log.Info("all producers finished", "started", len(started), "failed", len(specs)-len(started))

	if err := log.Close(); err != nil {
		c.opts.Fallback.Report(source, ferrors.Wrap(err, "flushing coordinator records"))
	}

	sentErr := c.sendSentinel(ctx, ep.Addr())
	if sentErr != nil {
		c.opts.Fallback.Report(source, sentErr)
		c.setSentinelErr(sentErr)
	}
	c.opts.Bus.Publish(event.NewSentinelSentEvent(sentErr))

	err = c.joinListener(ctx, lp)
	return c.snapshot(), err
}

func validateSpecs(specs []ProducerSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return ferrors.NewValidationError("producer name is required").WithField("name")
		}
		if s.Name == ListenerName {
			return ferrors.NewValidationError("producer name is reserved").WithField("name").WithValue(s.Name)
		}
		if seen[s.Name] {
			return ferrors.NewValidationError("duplicate producer name").WithField("name").WithValue(s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (c *Coordinator) startListener(ctx context.Context, ep *queue.Endpoint) (process.Process, error) {
	lp, err := c.opts.Launcher.Listener(ep)
	if err == nil {
		err = lp.Start(ctx)
	}
	if err != nil {
		c.opts.Bus.Publish(event.NewProcessStartFailedEvent(ListenerName, event.RoleListener, err))
		if ferrors.IsShutdown(err) {
			return nil, err
		}
		return nil, ferrors.NewProcessError("listener failed to start", err).WithProcess(ListenerName)
	}
	c.opts.Bus.Publish(event.NewProcessStartedEvent(lp.Name(), event.RoleListener, lp.PID()))
	return lp, nil
}

// attach configures the coordinator's top-level logger with a queue-backed
// emitter. If the queue cannot be reached the coordinator logs nowhere and
// the failure is reported.
func (c *Coordinator) attach(ctx context.Context, addr string) *logging.Logger {
	client, err := queue.Dial(ctx, addr, queue.ClientOptions{
		BufferSize:  c.opts.BufferSize,
		DialTimeout: c.opts.DialTimeout,
		Fallback:    c.opts.Fallback,
		Name:        c.opts.ProcessName,
	})
	if err != nil {
		c.opts.Fallback.Report(c.opts.ProcessName, err)
		return logging.NopLogger()
	}
	return emitter.Configure(client, emitter.Options{
		ProcessName:  c.opts.ProcessName,
		Level:        c.opts.Level,
		FlushTimeout: c.opts.FlushTimeout,
		Fallback:     c.opts.Fallback,
	})
}

func (c *Coordinator) startProducers(ctx context.Context, log *logging.Logger, specs []ProducerSpec, addr string) []process.Process {
	started := make([]process.Process, 0, len(specs))
	for _, spec := range specs {
		p, err := c.opts.Launcher.Producer(spec, addr)
		if err == nil {
			err = p.Start(ctx)
		}
		if err != nil {
			c.opts.Fallback.Report(source, err)
			log.Error("producer failed to start", "producer", spec.Name, logging.ErrorKey, err)
			c.opts.Bus.Publish(event.NewProcessStartFailedEvent(spec.Name, event.RoleProducer, err))
			c.mu.Lock()
			c.result.StartErrors[spec.Name] = err
			c.mu.Unlock()
			continue
		}
		c.opts.Bus.Publish(event.NewProcessStartedEvent(p.Name(), event.RoleProducer, p.PID()))
		c.mu.Lock()
		c.result.Started = append(c.result.Started, p.Name())
		c.mu.Unlock()
		started = append(started, p)
	}
	return started
}

// joinProducers waits for every started producer or for ctx.
func (c *Coordinator) joinProducers(ctx context.Context, log *logging.Logger, started []process.Process) error {
	var wg sync.WaitGroup
	for _, p := range started {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Wait()
			c.opts.Bus.Publish(event.NewProcessExitedEvent(p.Name(), event.RoleProducer, err))
			if err == nil {
				return
			}
			c.mu.Lock()
			c.result.ProducerErrors[p.Name()] = err
			c.mu.Unlock()
			if ctx.Err() == nil {
				log.Error("producer exited with error", "producer", p.Name(), logging.ErrorKey, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ferrors.NewShutdownError(ctx.Err())
	}
}

// sendSentinel delivers exactly one sentinel on its own connection, after
// every other sender has flushed. A dead listener refuses the connection
// instead of blocking.
func (c *Coordinator) sendSentinel(ctx context.Context, addr string) error {
	client, err := queue.Dial(ctx, addr, queue.ClientOptions{
		DialTimeout: c.opts.DialTimeout,
		Fallback:    c.opts.Fallback,
		Name:        c.opts.ProcessName,
	})
	if err != nil {
		return ferrors.Wrap(err, "failed to send sentinel")
	}

	flushCtx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
	defer cancel()
	if err := client.Send(flushCtx, record.SentinelFrame()); err != nil {
		_ = client.Close(flushCtx)
		return ferrors.Wrap(err, "failed to send sentinel")
	}
	if err := client.Close(flushCtx); err != nil {
		return ferrors.Wrap(err, "failed to flush sentinel")
	}
	return nil
}

// joinListener waits up to JoinTimeout for the listener. A listener that
// does not exit in time is stopped.
func (c *Coordinator) joinListener(ctx context.Context, lp process.Process) error {
	done := make(chan error, 1)
	go func() { done <- process.WaitTimeout(lp, c.opts.JoinTimeout) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		c.stopAll([]process.Process{lp})
		return ferrors.NewShutdownError(ctx.Err())
	}
	c.opts.Bus.Publish(event.NewProcessExitedEvent(lp.Name(), event.RoleListener, err))
	if err == nil {
		return nil
	}

	c.mu.Lock()
	c.result.ListenerErr = err
	c.mu.Unlock()

	if ferrors.Is(err, ferrors.ErrTimeout) {
		c.opts.Fallback.Report(source, err)
		if serr := lp.Stop(); serr != nil {
			c.opts.Fallback.Report(source, ferrors.Wrap(serr, "stopping listener"))
		}
		return err
	}
	return ferrors.NewProcessError("listener exited with error", ferrors.Join(ferrors.ErrListenerExited, err)).
		WithProcess(lp.Name()).WithPID(lp.PID())
}

// stopAll stops every process concurrently.
func (c *Coordinator) stopAll(procs []process.Process) {
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				c.opts.Fallback.Report(source, ferrors.Wrapf(err, "stopping %s", p.Name()))
			}
		}()
	}
	wg.Wait()
}

func (c *Coordinator) setSentinelErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.SentinelErr = err
}

// snapshot copies the result so callers never race the join goroutines.
func (c *Coordinator) snapshot() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Result{
		Started:        append([]string(nil), c.result.Started...),
		StartErrors:    make(map[string]error, len(c.result.StartErrors)),
		ProducerErrors: make(map[string]error, len(c.result.ProducerErrors)),
		SentinelErr:    c.result.SentinelErr,
		ListenerErr:    c.result.ListenerErr,
	}
	for k, v := range c.result.StartErrors {
		r.StartErrors[k] = v
	}
	for k, v := range c.result.ProducerErrors {
		r.ProducerErrors[k] = v
	}
	return r
}

// Specs returns n producer specs named Process-1..Process-n, each running
// body(name).
func Specs(n int, body func(name string) emitter.Body) []ProducerSpec {
	specs := make([]ProducerSpec, n)
	for i := range specs {
		name := "Process-" + strconv.Itoa(i+1)
		specs[i] = ProducerSpec{Name: name}
		if body != nil {
			specs[i].Body = body(name)
		}
	}
	return specs
}

package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

// Func is the body of a FuncProcess. It should return when ctx is done.
type Func func(ctx context.Context) error

// FuncProcess runs a function on its own goroutine. Stop cancels the
// function's context.
type FuncProcess struct {
	name  string
	fn    Func
	grace time.Duration

	mu     sync.RWMutex
	cancel context.CancelFunc
	state  *exitState
}

// NewFuncProcess creates a process running fn.
func NewFuncProcess(name string, fn Func) *FuncProcess {
	return &FuncProcess{name: name, fn: fn, grace: DefaultStopGrace}
}

// WithStopGrace sets how long Stop waits for fn to return.
func (p *FuncProcess) WithStopGrace(d time.Duration) *FuncProcess {
	p.grace = d
	return p
}

// Name returns the process name.
func (p *FuncProcess) Name() string { return p.name }

// PID returns 0; the function shares the caller's OS process.
func (p *FuncProcess) PID() int { return 0 }

// Start runs fn on a new goroutine with a context derived from ctx.
func (p *FuncProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != nil {
		return ferrors.ErrProcessAlreadyRunning
	}
	if p.fn == nil {
		return ferrors.NewValidationError("process function is required").WithField("fn")
	}
	if err := ctx.Err(); err != nil {
		return ferrors.NewShutdownError(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = newExitState()
	go p.run(runCtx, p.state)
	return nil
}

func (p *FuncProcess) run(ctx context.Context, state *exitState) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.NewProcessError(fmt.Sprintf("panicked: %v", r), nil).
				WithProcess(p.name).WithSeverity(ferrors.SeverityCritical)
		}
		p.cancel()
		state.finish(err)
	}()
	err = p.fn(ctx)
}

// IsRunning reports whether fn has not returned yet.
func (p *FuncProcess) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != nil && !p.state.exited()
}

// Wait blocks until fn returns and returns its error.
func (p *FuncProcess) Wait() error {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	if state == nil {
		return ferrors.ErrProcessNotRunning
	}
	<-state.done
	return state.err
}

// Stop cancels fn's context and waits up to the grace period for it to
// return.
func (p *FuncProcess) Stop() error {
	p.mu.RLock()
	cancel, state := p.cancel, p.state
	p.mu.RUnlock()

	if state == nil || state.exited() {
		return nil
	}
	cancel()
	if !state.waitGrace(p.grace) {
		return ferrors.NewTimeoutError("stop "+p.name, p.grace)
	}
	return nil
}

// Package process abstracts the OS processes that take part in an
// aggregation run: the listener and the producers.
//
// Implementations:
//   - [ExecProcess]: a child OS process, usually this binary re-executed
//     with a hidden role subcommand
//   - [FuncProcess]: a function on its own goroutine, for in-process runs
//     and tests
//
// Both are safe for concurrent use. Wait may be called from several
// goroutines; Stop may be called repeatedly.
package process

import (
	"context"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

// DefaultStopGrace is how long Stop waits after interrupting a process
// before killing it.
const DefaultStopGrace = 3 * time.Second

// Process is the lifecycle of one participant.
//
// The typical lifecycle is:
//  1. Create a Process with NewExecProcess or NewFuncProcess
//  2. Start it with Start(ctx)
//  3. Join it with Wait (or WaitTimeout)
//  4. Stop it when a bounded wait expires or the run is cancelled
type Process interface {
	// Name returns the process name stamped on its records.
	Name() string

	// PID returns the OS process ID once started, or 0.
	PID() int

	// Start launches the process. It returns once the launch succeeded; it
	// does not wait for the process to do anything.
	//
	// Returns ErrProcessAlreadyRunning if called twice.
	Start(ctx context.Context) error

	// Stop interrupts the process, then kills it if it has not exited
	// within the grace period. It is safe to call on a process that is not
	// running.
	Stop() error

	// IsRunning reports whether the process has started and not yet exited.
	IsRunning() bool

	// Wait blocks until the process exits and returns its exit error.
	//
	// Returns ErrProcessNotRunning if the process was never started.
	Wait() error
}

// WaitTimeout waits for p to exit for at most d. On expiry it returns a
// *TimeoutError and leaves p running.
func WaitTimeout(p Process, d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ferrors.NewTimeoutError("join "+p.Name(), d)
	}
}

// exitState is the shared wait bookkeeping of both implementations.
type exitState struct {
	done chan struct{}
	err  error
}

func newExitState() *exitState {
	return &exitState{done: make(chan struct{})}
}

func (s *exitState) finish(err error) {
	s.err = err
	close(s.done)
}

func (s *exitState) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// waitGrace waits for the exit or the grace period, whichever is first.
func (s *exitState) waitGrace(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

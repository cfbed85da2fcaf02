package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

// Config describes a child OS process.
type Config struct {
	// Name identifies the process in diagnostics.
	Name string

	// Path is the executable. Defaults to the running binary.
	Path string

	// Args are the arguments after the executable.
	Args []string

	// Env is added to the parent's environment.
	Env []string

	// ExtraFiles are inherited by the child starting at fd 3. The parent's
	// copies are closed once the child has started.
	ExtraFiles []*os.File

	// Stdin is the child's standard input. Nil means no input.
	Stdin io.Reader

	// Stdout and Stderr default to the parent's.
	Stdout io.Writer
	Stderr io.Writer

	// StopGrace is the delay between interrupt and kill (default: 3s).
	StopGrace time.Duration
}

// Validate checks that the Config has all required fields set.
func (c *Config) Validate() error {
	if c.Name == "" {
		return ferrors.NewValidationError("process name is required").WithField("name")
	}
	if c.StopGrace < 0 {
		return ferrors.NewValidationError("stop grace must be non-negative").WithField("stop_grace").WithValue(c.StopGrace)
	}
	return nil
}

// ExecProcess runs a child OS process.
type ExecProcess struct {
	config Config

	mu    sync.RWMutex
	cmd   *exec.Cmd
	state *exitState
}

// NewExecProcess creates a process that will run config when started.
func NewExecProcess(config Config) *ExecProcess {
	if config.StopGrace == 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	return &ExecProcess{config: config}
}

// Name returns the configured name.
func (p *ExecProcess) Name() string { return p.config.Name }

// PID returns the child's process ID, or 0 before Start.
func (p *ExecProcess) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Start launches the child.
func (p *ExecProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != nil {
		return ferrors.ErrProcessAlreadyRunning
	}
	if err := p.config.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ferrors.NewShutdownError(err)
	}

	path := p.config.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return ferrors.NewProcessError("failed to locate executable", err).WithProcess(p.config.Name)
		}
		path = exe
	}

	cmd := exec.Command(path, p.config.Args...)
	cmd.Env = append(os.Environ(), p.config.Env...)
	cmd.ExtraFiles = p.config.ExtraFiles
	cmd.Stdin = p.config.Stdin
	cmd.Stdout = p.config.Stdout
	cmd.Stderr = p.config.Stderr

	err := cmd.Start()
	// The child holds its own descriptors now; the parent's copies would
	// keep the queue alive after the child exits.
	for _, f := range p.config.ExtraFiles {
		_ = f.Close()
	}
	if err != nil {
		return ferrors.NewProcessError("failed to start", errors.Join(ferrors.ErrProcessStartFailed, err)).
			WithProcess(p.config.Name)
	}

	p.cmd = cmd
	p.state = newExitState()
	go p.monitor(cmd, p.state)
	return nil
}

func (p *ExecProcess) monitor(cmd *exec.Cmd, state *exitState) {
	err := cmd.Wait()
	if err != nil {
		err = ferrors.NewProcessError("exited with error", err).
			WithProcess(p.config.Name).WithPID(cmd.Process.Pid)
	}
	state.finish(err)
}

// IsRunning reports whether the child is alive.
func (p *ExecProcess) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != nil && !p.state.exited()
}

// Wait blocks until the child exits.
func (p *ExecProcess) Wait() error {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	if state == nil {
		return ferrors.ErrProcessNotRunning
	}
	<-state.done
	return state.err
}

// Stop interrupts the child and kills it after the grace period.
func (p *ExecProcess) Stop() error {
	p.mu.RLock()
	cmd, state := p.cmd, p.state
	p.mu.RUnlock()

	if state == nil || state.exited() {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// Interrupt is not deliverable everywhere; fall through to kill.
		return p.kill(cmd, state)
	}
	if state.waitGrace(p.config.StopGrace) {
		return nil
	}
	return p.kill(cmd, state)
}

func (p *ExecProcess) kill(cmd *exec.Cmd, state *exitState) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return ferrors.NewProcessError("failed to kill", err).WithProcess(p.config.Name).WithPID(cmd.Process.Pid)
	}
	<-state.done
	return nil
}

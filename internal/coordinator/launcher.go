package coordinator

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/emitter"
	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/listener"
	"github.com/Iron-Ham/logfunnel/internal/process"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/sink"
)

// ListenerName is the process name of the listener.
const ListenerName = "Listener"

// ProducerSpec describes one producer to launch.
type ProducerSpec struct {
	// Name is the producer's process name, e.g. "Process-3".
	Name string
	// Body is the work an in-process producer runs.
	Body emitter.Body
	// Args are appended to the worker command of an exec producer.
	Args []string
}

// Launcher builds the listener and producer processes. It does not start
// them.
type Launcher interface {
	// Listener takes ownership of the queue's listening side.
	Listener(ep *queue.Endpoint) (process.Process, error)
	// Producer builds a producer that connects to the queue at addr.
	Producer(spec ProducerSpec, addr string) (process.Process, error)
}

// ExecLauncher runs every role as a child OS process, normally the same
// binary with a hidden role subcommand. The listener inherits the queue
// socket as fd 3 and reads its handler spec from stdin.
type ExecLauncher struct {
	// Path is the executable (default: the running binary).
	Path string
	// ListenArgs start the listener role (default: "listen").
	ListenArgs []string
	// WorkerArgs start a producer role (default: "worker"). The launcher
	// appends --name and --addr.
	WorkerArgs []string
	// Spec is piped to the listener as YAML.
	Spec *sink.Spec
	// Env is added to every child's environment.
	Env []string
	// Stdout and Stderr default to the parent's.
	Stdout    io.Writer
	Stderr    io.Writer
	StopGrace time.Duration
}

// Listener hands the queue socket to a new child process.
func (l *ExecLauncher) Listener(ep *queue.Endpoint) (process.Process, error) {
	if l.Spec == nil {
		return nil, ferrors.NewValidationError("listener handler spec is required").WithField("spec")
	}
	data, err := l.Spec.Marshal()
	if err != nil {
		return nil, err
	}
	f, err := ep.Handoff()
	if err != nil {
		return nil, err
	}

	args := append(l.args(l.ListenArgs, "listen"), "--spec", "-")
	return process.NewExecProcess(process.Config{
		Name:       ListenerName,
		Path:       l.Path,
		Args:       args,
		Env:        l.Env,
		ExtraFiles: []*os.File{f},
		Stdin:      bytes.NewReader(data),
		Stdout:     l.Stdout,
		Stderr:     l.Stderr,
		StopGrace:  l.StopGrace,
	}), nil
}

// Producer builds a worker child process.
func (l *ExecLauncher) Producer(spec ProducerSpec, addr string) (process.Process, error) {
	args := append(l.args(l.WorkerArgs, "worker"), "--name", spec.Name, "--addr", addr)
	args = append(args, spec.Args...)
	return process.NewExecProcess(process.Config{
		Name:      spec.Name,
		Path:      l.Path,
		Args:      args,
		Env:       l.Env,
		Stdout:    l.Stdout,
		Stderr:    l.Stderr,
		StopGrace: l.StopGrace,
	}), nil
}

func (l *ExecLauncher) args(configured []string, def string) []string {
	if len(configured) == 0 {
		return []string{def}
	}
	return append([]string(nil), configured...)
}

// InProcessLauncher runs every role on a goroutine of the current process.
// Records still travel over the queue socket.
type InProcessLauncher struct {
	// Serve is the listener template; its Listener field is replaced.
	Serve listener.ServeOptions
	// Produce is the producer template; Name and Addr are replaced.
	Produce   emitter.ProducerOptions
	StopGrace time.Duration
}

// Listener serves the queue on a goroutine.
func (l *InProcessLauncher) Listener(ep *queue.Endpoint) (process.Process, error) {
	ln, err := ep.TakeListener()
	if err != nil {
		return nil, err
	}
	opts := l.Serve
	opts.Listener = ln
	p := process.NewFuncProcess(ListenerName, func(ctx context.Context) error {
		return listener.Serve(ctx, opts)
	})
	return l.withGrace(p), nil
}

// Producer runs spec.Body through emitter.Produce on a goroutine.
func (l *InProcessLauncher) Producer(spec ProducerSpec, addr string) (process.Process, error) {
	if spec.Body == nil {
		return nil, ferrors.NewValidationError("in-process producer needs a body").WithField("body").WithValue(spec.Name)
	}
	opts := l.Produce
	opts.Name = spec.Name
	opts.Addr = addr
	p := process.NewFuncProcess(spec.Name, func(ctx context.Context) error {
		return emitter.Produce(ctx, opts, spec.Body)
	})
	return l.withGrace(p), nil
}

func (l *InProcessLauncher) withGrace(p *process.FuncProcess) *process.FuncProcess {
	if l.StopGrace > 0 {
		return p.WithStopGrace(l.StopGrace)
	}
	return p
}

package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/emitter"
	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/listener"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/process"
	"github.com/Iron-Ham/logfunnel/internal/queue"
	"github.com/Iron-Ham/logfunnel/internal/record"
	"github.com/Iron-Ham/logfunnel/internal/sink"
	"github.com/Iron-Ham/logfunnel/internal/testutil"
)

const helperEnv = "LOGFUNNEL_COORDINATOR_HELPER"

// TestMain lets the test binary act as the listener and worker children of
// an ExecLauncher.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "" {
		os.Exit(m.Run())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "listen":
		err = helperListen(ctx)
	case "worker":
		err = helperWorker(ctx, os.Args[2:])
	default:
		err = fmt.Errorf("unknown role %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperListen(ctx context.Context) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	spec, err := sink.ParseSpec(data)
	if err != nil {
		return err
	}
	return listener.ServeFile(ctx, os.NewFile(3, "queue"), listener.ServeOptions{
		Configure: spec.Configure(),
	})
}

func helperWorker(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	name := fs.String("name", "", "")
	addr := fs.String("addr", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return emitter.Produce(ctx, emitter.ProducerOptions{Name: *name, Addr: *addr}, countingBody(3))
}

// countingBody logs "record 0".."record n-1" on alternating loggers.
func countingBody(n int) emitter.Body {
	return func(ctx context.Context, log *logging.Logger) error {
		for i := range n {
			name := "a.b.c"
			if i%2 == 1 {
				name = "d.e.f"
			}
			if err := log.Logger(name).Logf(ctx, record.LevelInfo, "record %d", i); err != nil {
				return err
			}
		}
		return nil
	}
}

func jsonFileSpec(path string) *sink.Spec {
	return &sink.Spec{
		Version: sink.SpecVersion,
		Handlers: map[string]sink.HandlerSpec{
			"file": {Type: sink.TypeFile, Format: "json", Path: path},
		},
		Root: sink.LoggerSpec{Handlers: []string{"file"}},
	}
}

func inProcess(path string, fb *logging.Fallback) *InProcessLauncher {
	return &InProcessLauncher{
		Serve:     listener.ServeOptions{Configure: jsonFileSpec(path).Configure(), Fallback: fb},
		Produce:   emitter.ProducerOptions{Fallback: fb},
		StopGrace: time.Second,
	}
}

func readEntries(t *testing.T, path string) []logging.LogEntry {
	t.Helper()
	return testutil.ReadSinkEntries(t, path)
}

// checkProducerRecords verifies every producer's records arrived exactly
// once and in emission order.
func checkProducerRecords(t *testing.T, entries []logging.LogEntry, names []string, n int) {
	t.Helper()
	got := make(map[string][]string)
	for _, e := range entries {
		got[e.Process] = append(got[e.Process], e.Message)
	}
	for _, name := range names {
		msgs := got[name]
		if len(msgs) != n {
			t.Errorf("%s: got %d records, want %d: %v", name, len(msgs), n, msgs)
			continue
		}
		for i, m := range msgs {
			if want := fmt.Sprintf("record %d", i); m != want {
				t.Errorf("%s: record %d = %q, want %q", name, i, m, want)
			}
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func TestRun_InProcessDeliversEveryRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mptest_log.txt")
	var diag bytes.Buffer
	fb := logging.NewFallback(&diag)

	bus := event.NewBus(fb)
	events := &eventLog{}
	bus.SubscribeAll(events.record)

	c := New(Options{Launcher: inProcess(path, fb), Fallback: fb, Bus: bus, JoinTimeout: 10 * time.Second})
	specs := Specs(3, func(string) emitter.Body { return countingBody(3) })

	res, err := c.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run() error = %v (diagnostics: %s)", err, diag.String())
	}
	if !res.OK() {
		t.Errorf("Result = %+v", res)
	}
	if len(res.Started) != 3 {
		t.Errorf("Started = %v", res.Started)
	}

	entries := readEntries(t, path)
	checkProducerRecords(t, entries, res.Started, 3)

	main := 0
	for _, e := range entries {
		if e.Process == DefaultProcessName {
			main++
		}
	}
	if main != 2 {
		t.Errorf("coordinator records = %d, want 2", main)
	}
	if len(entries) != 3*3+2 {
		t.Errorf("sink has %d records, want %d", len(entries), 3*3+2)
	}

	if n := events.count(event.TypeProcessStarted); n != 4 {
		t.Errorf("process.started events = %d, want 4", n)
	}
	if n := events.count(event.TypeSentinelSent); n != 1 {
		t.Errorf("sentinel.sent events = %d, want 1", n)
	}
	if n := events.count(event.TypeProcessExited); n != 4 {
		t.Errorf("process.exited events = %d, want 4", n)
	}
	if diag.Len() != 0 {
		t.Errorf("unexpected diagnostics: %s", diag.String())
	}
}

func TestRun_InProcessBurstIsNotDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mptest_log.txt")
	diag := &testutil.SyncBuffer{}
	fb := logging.NewFallback(diag)

	const producers, n = 3, 5000
	c := New(Options{Launcher: inProcess(path, fb), Fallback: fb, JoinTimeout: 30 * time.Second})
	res, err := c.Run(context.Background(), Specs(producers, func(string) emitter.Body { return countingBody(n) }))
	if err != nil {
		t.Fatalf("Run() error = %v (diagnostics: %s)", err, diag.String())
	}
	if !res.OK() {
		t.Errorf("Result = %+v", res)
	}

	entries := readEntries(t, path)
	checkProducerRecords(t, entries, res.Started, n)
	if want := producers*n + 2; len(entries) != want {
		t.Errorf("sink has %d records, want %d", len(entries), want)
	}
	if diag.Len() != 0 {
		t.Errorf("unexpected diagnostics: %s", diag.String())
	}
}

// failingLauncher fails to build the named producers.
type failingLauncher struct {
	*InProcessLauncher
	fail map[string]bool
}

func (l *failingLauncher) Producer(spec ProducerSpec, addr string) (process.Process, error) {
	if l.fail[spec.Name] {
		return nil, ferrors.NewProcessError("no such executable", ferrors.ErrProcessStartFailed).WithProcess(spec.Name)
	}
	return l.InProcessLauncher.Producer(spec, addr)
}

func TestRun_ProducerStartFailureDoesNotStopOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mptest_log.txt")
	var diag bytes.Buffer
	fb := logging.NewFallback(&diag)

	launcher := &failingLauncher{InProcessLauncher: inProcess(path, fb), fail: map[string]bool{"Process-2": true}}
	c := New(Options{Launcher: launcher, Fallback: fb})

	res, err := c.Run(context.Background(), Specs(3, func(string) emitter.Body { return countingBody(3) }))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OK() {
		t.Error("Result should report the start failure")
	}
	if !errors.Is(res.StartErrors["Process-2"], ferrors.ErrProcessStartFailed) {
		t.Errorf("StartErrors = %v", res.StartErrors)
	}

	entries := readEntries(t, path)
	checkProducerRecords(t, entries, []string{"Process-1", "Process-3"}, 3)

	var reported bool
	for _, e := range entries {
		if e.Process == DefaultProcessName && e.Level == record.LevelError.String() && e.Message == "producer failed to start" {
			reported = true
		}
	}
	if !reported {
		t.Error("coordinator did not log the start failure")
	}
	if !bytes.Contains(diag.Bytes(), []byte("Process-2")) {
		t.Errorf("fallback output = %q", diag.String())
	}
}

// funcLauncher builds the listener from a function.
type funcLauncher struct {
	*InProcessLauncher
	listener func(ln net.Listener) process.Func
}

func (l *funcLauncher) Listener(ep *queue.Endpoint) (process.Process, error) {
	ln, err := ep.TakeListener()
	if err != nil {
		return nil, err
	}
	return process.NewFuncProcess(ListenerName, l.listener(ln)).WithStopGrace(time.Second), nil
}

func TestRun_ListenerStartFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	launcher := &brokenListenerLauncher{err: boom}
	c := New(Options{Launcher: launcher, Fallback: logging.NewFallback(io.Discard)})

	_, err := c.Run(context.Background(), Specs(2, nil))
	var procErr *ferrors.ProcessError
	if !errors.As(err, &procErr) || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want ProcessError wrapping boom", err)
	}
	if launcher.producers != 0 {
		t.Errorf("%d producers built after listener failure", launcher.producers)
	}
}

type brokenListenerLauncher struct {
	err       error
	producers int
}

func (l *brokenListenerLauncher) Listener(*queue.Endpoint) (process.Process, error) {
	return nil, l.err
}

func (l *brokenListenerLauncher) Producer(ProducerSpec, string) (process.Process, error) {
	l.producers++
	return nil, errors.New("unreachable")
}

func TestRun_DeadListenerDoesNotHang(t *testing.T) {
	var diag bytes.Buffer
	fb := logging.NewFallback(&diag)
	crashed := errors.New("listener crashed")

	launcher := &funcLauncher{
		InProcessLauncher: inProcess(filepath.Join(t.TempDir(), "unused.txt"), fb),
		listener: func(ln net.Listener) process.Func {
			_ = ln.Close()
			return func(context.Context) error { return crashed }
		},
	}
	c := New(Options{Launcher: launcher, Fallback: fb, JoinTimeout: 10 * time.Second})

	start := time.Now()
	res, err := c.Run(context.Background(), Specs(2, func(string) emitter.Body { return countingBody(1) }))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v with a dead listener", elapsed)
	}
	if !errors.Is(err, ferrors.ErrListenerExited) || !errors.Is(err, crashed) {
		t.Errorf("Run() error = %v, want ErrListenerExited wrapping the crash", err)
	}
	if !errors.Is(res.SentinelErr, ferrors.ErrQueueUnavailable) {
		t.Errorf("SentinelErr = %v, want ErrQueueUnavailable", res.SentinelErr)
	}
	if len(res.ProducerErrors) != 2 {
		t.Errorf("ProducerErrors = %v", res.ProducerErrors)
	}
	if diag.Len() == 0 {
		t.Error("sentinel failure was not reported")
	}
}

func TestRun_JoinTimeoutStopsListener(t *testing.T) {
	fb := logging.NewFallback(io.Discard)
	var stopped sync.WaitGroup
	stopped.Add(1)

	launcher := &funcLauncher{
		InProcessLauncher: inProcess(filepath.Join(t.TempDir(), "unused.txt"), fb),
		listener: func(ln net.Listener) process.Func {
			return func(ctx context.Context) error {
				defer stopped.Done()
				<-ctx.Done() // never reads the sentinel
				return ln.Close()
			}
		},
	}
	c := New(Options{Launcher: launcher, Fallback: fb, JoinTimeout: 200 * time.Millisecond})

	res, err := c.Run(context.Background(), nil)
	var timeoutErr *ferrors.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run() error = %v, want TimeoutError", err)
	}
	if !errors.Is(res.ListenerErr, ferrors.ErrTimeout) {
		t.Errorf("ListenerErr = %v", res.ListenerErr)
	}
	stopped.Wait()
}

func TestRun_CancelStopsEveryProcess(t *testing.T) {
	fb := logging.NewFallback(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(fb)
	var running sync.WaitGroup
	running.Add(2)
	bus.Subscribe(event.TypeProcessStarted, func(e event.Event) {
		if e.(event.ProcessStartedEvent).Role == event.RoleProducer {
			running.Done()
		}
	})
	go func() {
		running.Wait()
		cancel()
	}()

	blocked := func(string) emitter.Body {
		return func(ctx context.Context, _ *logging.Logger) error {
			<-ctx.Done()
			return ferrors.NewShutdownError(ctx.Err())
		}
	}
	c := New(Options{
		Launcher: inProcess(filepath.Join(t.TempDir(), "mptest_log.txt"), fb),
		Fallback: fb,
		Bus:      bus,
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, Specs(2, blocked))
		done <- err
	}()

	select {
	case err := <-done:
		if !ferrors.IsShutdown(err) {
			t.Errorf("Run() error = %v, want shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_Validation(t *testing.T) {
	launcher := inProcess("unused", nil)
	tests := []struct {
		name  string
		opts  Options
		specs []ProducerSpec
	}{
		{"no launcher", Options{}, nil},
		{"empty name", Options{Launcher: launcher}, []ProducerSpec{{}}},
		{"reserved name", Options{Launcher: launcher}, []ProducerSpec{{Name: ListenerName}}},
		{"duplicate", Options{Launcher: launcher}, []ProducerSpec{{Name: "p"}, {Name: "p"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts).Run(context.Background(), tt.specs)
			if !errors.Is(err, ferrors.ErrInvalidInput) {
				t.Errorf("Run() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSpecs(t *testing.T) {
	specs := Specs(3, nil)
	for i, s := range specs {
		if want := fmt.Sprintf("Process-%d", i+1); s.Name != want || s.Body != nil {
			t.Errorf("specs[%d] = %+v", i, s)
		}
	}
	if len(Specs(0, nil)) != 0 {
		t.Error("Specs(0) should be empty")
	}
}

func TestInProcessLauncher_RequiresBody(t *testing.T) {
	l := &InProcessLauncher{}
	if _, err := l.Producer(ProducerSpec{Name: "p"}, "addr"); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("Producer() error = %v, want ErrInvalidInput", err)
	}
}

func TestExecLauncher_Args(t *testing.T) {
	l := &ExecLauncher{WorkerArgs: []string{"sub", "worker"}}
	p, err := l.Producer(ProducerSpec{Name: "Process-1", Args: []string{"--records", "3"}}, "/tmp/q.sock")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "Process-1" || p.PID() != 0 {
		t.Errorf("producer = %s/%d", p.Name(), p.PID())
	}

	if _, err := l.Listener(nil); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("Listener() without spec error = %v, want ErrInvalidInput", err)
	}
}

func TestRun_ExecProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}
	path := filepath.Join(t.TempDir(), "mptest_log.txt")
	var diag, childErr bytes.Buffer
	fb := logging.NewFallback(&diag)

	launcher := &ExecLauncher{
		Path:      os.Args[0],
		Spec:      jsonFileSpec(path),
		Env:       []string{helperEnv + "=1"},
		Stdout:    io.Discard,
		Stderr:    &childErr,
		StopGrace: time.Second,
	}
	c := New(Options{Launcher: launcher, Fallback: fb, JoinTimeout: 20 * time.Second})

	res, err := c.Run(context.Background(), Specs(3, nil))
	if err != nil {
		t.Fatalf("Run() error = %v\nchildren: %s\ndiagnostics: %s", err, childErr.String(), diag.String())
	}
	if !res.OK() {
		t.Fatalf("Result = %+v", res)
	}

	entries := readEntries(t, path)
	checkProducerRecords(t, entries, res.Started, 3)

	pids := make(map[string]map[int]bool)
	for _, e := range entries {
		if pids[e.Process] == nil {
			pids[e.Process] = make(map[int]bool)
		}
		pids[e.Process][e.PID] = true
	}
	for _, name := range res.Started {
		if len(pids[name]) != 1 || pids[name][os.Getpid()] {
			t.Errorf("%s records carry PIDs %v, want one child PID", name, pids[name])
		}
	}

	lines := 0
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != 3*3+2 {
		t.Errorf("sink file has %d lines, want %d", lines, 3*3+2)
	}
}

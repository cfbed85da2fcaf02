package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

const helperEnv = "LOGFUNNEL_PROCESS_HELPER"

// TestMain lets the test binary act as a child process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "exit0":
		os.Exit(0)
	case "exit3":
		os.Exit(3)
	case "sleep":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		select {
		case <-ctx.Done():
			os.Exit(0)
		case <-time.After(time.Minute):
			os.Exit(1)
		}
	case "ignore-interrupt":
		signal.Ignore(os.Interrupt)
		time.Sleep(time.Minute)
		os.Exit(1)
	case "fd3":
		f := os.NewFile(3, "extra")
		data, err := io.ReadAll(f)
		if err != nil || string(data) != "hello" {
			os.Exit(4)
		}
		os.Exit(0)
	}
	os.Exit(2)
}

func helper(t *testing.T, mode string) Config {
	t.Helper()
	return Config{
		Name:      "helper-" + mode,
		Path:      os.Args[0],
		Env:       []string{helperEnv + "=" + mode},
		Stdout:    io.Discard,
		Stderr:    io.Discard,
		StopGrace: 200 * time.Millisecond,
	}
}

func TestExecProcess_CleanExit(t *testing.T) {
	p := NewExecProcess(helper(t, "exit0"))
	if err := p.Wait(); !errors.Is(err, ferrors.ErrProcessNotRunning) {
		t.Errorf("Wait() before Start = %v, want ErrProcessNotRunning", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.PID() == 0 {
		t.Error("PID() should be set after Start")
	}
	if err := WaitTimeout(p, 10*time.Second); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if p.IsRunning() {
		t.Error("IsRunning() after exit")
	}
	if err := p.Start(context.Background()); !errors.Is(err, ferrors.ErrProcessAlreadyRunning) {
		t.Errorf("second Start() = %v", err)
	}
}

func TestExecProcess_ExitCode(t *testing.T) {
	p := NewExecProcess(helper(t, "exit3"))
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := p.Wait()
	var procErr *ferrors.ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Wait() error = %v, want ProcessError", err)
	}
	if procErr.PID != p.PID() {
		t.Errorf("PID = %d, want %d", procErr.PID, p.PID())
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error should carry the exit status: %v", err)
	}
}

func TestExecProcess_ExtraFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := helper(t, "fd3")
	cfg.ExtraFiles = []*os.File{f}
	p := NewExecProcess(cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("child could not read fd 3: %v", err)
	}
	if _, err := f.Stat(); err == nil {
		t.Error("parent copy of the extra file should be closed after Start")
	}
}

func TestExecProcess_Stop(t *testing.T) {
	tests := []struct {
		mode string
	}{
		{"sleep"},
		{"ignore-interrupt"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			p := NewExecProcess(helper(t, tt.mode))
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			// Give the child time to install its signal handling.
			time.Sleep(100 * time.Millisecond)

			if err := p.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if p.IsRunning() {
				t.Error("process should have exited")
			}
			if err := p.Stop(); err != nil {
				t.Errorf("second Stop() error = %v", err)
			}
		})
	}
}

func TestExecProcess_StartFailures(t *testing.T) {
	p := NewExecProcess(Config{Name: "missing", Path: filepath.Join(t.TempDir(), "nope")})
	err := p.Start(context.Background())
	if !errors.Is(err, ferrors.ErrProcessStartFailed) {
		t.Errorf("Start() error = %v, want ErrProcessStartFailed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewExecProcess(helper(t, "exit0")).Start(ctx); !ferrors.IsShutdown(err) {
		t.Errorf("Start() with cancelled ctx = %v, want shutdown", err)
	}

	if err := NewExecProcess(Config{}).Start(context.Background()); !errors.Is(err, ferrors.ErrInvalidInput) {
		t.Errorf("Start() without name = %v, want ErrInvalidInput", err)
	}
}

func TestFuncProcess(t *testing.T) {
	t.Run("returns body error", func(t *testing.T) {
		want := errors.New("body failed")
		p := NewFuncProcess("Process-1", func(context.Context) error { return want })
		if err := p.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := p.Wait(); !errors.Is(err, want) {
			t.Errorf("Wait() = %v, want %v", err, want)
		}
		if p.PID() != 0 {
			t.Error("in-process PID should be 0")
		}
	})

	t.Run("panic becomes process error", func(t *testing.T) {
		p := NewFuncProcess("Process-2", func(context.Context) error { panic("boom") })
		_ = p.Start(context.Background())
		var procErr *ferrors.ProcessError
		if err := p.Wait(); !errors.As(err, &procErr) || procErr.Severity() != ferrors.SeverityCritical {
			t.Errorf("Wait() = %v, want critical ProcessError", err)
		}
	})

	t.Run("stop cancels context", func(t *testing.T) {
		p := NewFuncProcess("Process-3", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		_ = p.Start(context.Background())
		if !p.IsRunning() {
			t.Fatal("should be running")
		}
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if err := p.Wait(); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() = %v", err)
		}
	})

	t.Run("stop grace expires", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		p := NewFuncProcess("Process-4", func(context.Context) error {
			<-release
			return nil
		}).WithStopGrace(20 * time.Millisecond)
		_ = p.Start(context.Background())
		if err := p.Stop(); !errors.Is(err, ferrors.ErrTimeout) {
			t.Errorf("Stop() = %v, want timeout", err)
		}
	})
}

func TestWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	p := NewFuncProcess("slow", func(context.Context) error {
		<-release
		return nil
	})
	_ = p.Start(context.Background())

	err := WaitTimeout(p, 20*time.Millisecond)
	var timeoutErr *ferrors.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("WaitTimeout() = %v, want TimeoutError", err)
	}
	if !p.IsRunning() {
		t.Error("WaitTimeout must not stop the process")
	}
	close(release)
	if err := WaitTimeout(p, time.Second); err != nil {
		t.Errorf("WaitTimeout() after release = %v", err)
	}
}

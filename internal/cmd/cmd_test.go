package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/testutil"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	resetFlags(root)
	buf := &testutil.SyncBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	t.Cleanup(func() {
		root.SetOut(nil)
		root.SetErr(nil)
		root.SetArgs(nil)
	})
	err := root.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of c and its subcommands to its default so
// that package-level flag variables do not leak between tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// isolateConfig keeps tests away from the user's config file.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

const sampleLog = `{"id":"1","logger":"a","level":"INFO","msg":"Random message #1","process":"Process-1","pid":10,"time":"2026-01-01T10:00:00Z"}
{"id":"2","logger":"a.b","level":"ERROR","msg":"Random message #2","process":"Process-2","pid":11,"time":"2026-01-01T10:00:01Z"}
{"id":"3","logger":"b.c","level":"DEBUG","msg":"Random message #3","process":"Process-1","pid":10,"time":"2026-01-01T10:00:02Z"}
{"id":"4","level":"CRITICAL","msg":"Random message #1","process":"MainProcess","pid":9,"time":"2026-01-01T10:00:03Z","failure":"Traceback: boom"}
`

func TestRootCommands(t *testing.T) {
	tests := []struct {
		name   string
		hidden bool
	}{
		{"run", false},
		{"logs", false},
		{"config", false},
		{"listen", true},
		{"worker", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{tt.name})
			if err != nil {
				t.Fatalf("Find(%q) error = %v", tt.name, err)
			}
			if c.Name() != tt.name {
				t.Fatalf("Find(%q) = %q", tt.name, c.Name())
			}
			if c.Hidden != tt.hidden {
				t.Errorf("%s hidden = %v, want %v", tt.name, c.Hidden, tt.hidden)
			}
		})
	}
}

func TestDisplayLogs(t *testing.T) {
	path := testutil.WriteFile(t, "mptest_log.txt", sampleLog)

	tests := []struct {
		name    string
		filter  logging.LogFilter
		tail    int
		want    []string
		notWant []string
	}{
		{
			name: "all",
			want: []string{"Process-1", "Process-2", "MainProcess", "Traceback: boom"},
		},
		{
			name:    "by process",
			filter:  logging.LogFilter{Process: "Process-1"},
			want:    []string{"Random message #1", "Random message #3"},
			notWant: []string{"Process-2", "MainProcess"},
		},
		{
			name:    "by level",
			filter:  logging.LogFilter{Level: "error"},
			want:    []string{"ERROR", "CRITICAL"},
			notWant: []string{"INFO", "DEBUG"},
		},
		{
			name:    "by logger glob",
			filter:  logging.LogFilter{LoggerPattern: "a.*"},
			want:    []string{"a.b"},
			notWant: []string{"b.c", "Process-1"},
		},
		{
			name:    "tail",
			tail:    1,
			want:    []string{"MainProcess"},
			notWant: []string{"Process-2"},
		},
		{
			name:   "no match",
			filter: logging.LogFilter{Process: "Process-9"},
			want:   []string{"No matching log entries found."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			view, err := newLogView(&buf, tt.filter)
			if err != nil {
				t.Fatalf("newLogView() error = %v", err)
			}
			if err := displayLogs(path, tt.tail, view); err != nil {
				t.Fatalf("displayLogs() error = %v", err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestDisplayLogs_TextLinesPassThrough(t *testing.T) {
	text := "2026-01-01 10:00:00,000 Process-1  a        INFO     Random message #1\n"
	path := testutil.WriteFile(t, "mptest_log.txt", text)

	var buf bytes.Buffer
	view, err := newLogView(&buf, logging.LogFilter{Process: "Process-2"})
	if err != nil {
		t.Fatalf("newLogView() error = %v", err)
	}
	if err := displayLogs(path, 0, view); err != nil {
		t.Fatalf("displayLogs() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Random message #1") {
		t.Errorf("text line not passed through:\n%s", buf.String())
	}
}

func TestNewLogView_InvalidFilter(t *testing.T) {
	if _, err := newLogView(&bytes.Buffer{}, logging.LogFilter{MessagePattern: "("}); err == nil {
		t.Error("expected error for invalid message pattern")
	}
	if _, err := newLogView(&bytes.Buffer{}, logging.LogFilter{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestExportLogs(t *testing.T) {
	path := testutil.WriteFile(t, "mptest_log.txt", sampleLog)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := exportLogs(&buf, path, logging.LogFilter{Level: "error"}, 0, "json"); err != nil {
			t.Fatalf("exportLogs() error = %v", err)
		}
		if !strings.Contains(buf.String(), `"msg": "Random message #2"`) {
			t.Errorf("missing ERROR record:\n%s", buf.String())
		}
		if strings.Contains(buf.String(), "Random message #3") {
			t.Errorf("DEBUG record not filtered:\n%s", buf.String())
		}
	})

	t.Run("csv tail", func(t *testing.T) {
		var buf bytes.Buffer
		if err := exportLogs(&buf, path, logging.LogFilter{}, 2, "csv"); err != nil {
			t.Fatalf("exportLogs() error = %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d csv lines, want header plus 2:\n%s", len(lines), buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := exportLogs(&bytes.Buffer{}, path, logging.LogFilter{}, 0, "xml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestFollowLogs(t *testing.T) {
	path := testutil.WriteFile(t, "mptest_log.txt", sampleLog)
	buf := &testutil.SyncBuffer{}
	view, err := newLogView(buf, logging.LogFilter{Process: "Process-7"})
	if err != nil {
		t.Fatalf("newLogView() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, path, view) }()

	testutil.WaitForOutput(t, buf, "Following")
	if strings.Contains(buf.String(), "Random message") {
		t.Fatalf("existing records should not be shown:\n%s", buf.String())
	}

	testutil.AppendLine(t, path, `{"level":"INFO","msg":"skipped","process":"Process-1","time":"2026-01-01T10:00:04Z"}`)
	testutil.AppendLine(t, path, `{"level":"INFO","msg":"followed","process":"Process-7","time":"2026-01-01T10:00:05Z"}`)
	testutil.WaitForOutput(t, buf, "followed")
	if strings.Contains(buf.String(), "skipped") {
		t.Errorf("filtered record shown:\n%s", buf.String())
	}

	// Truncation restarts from the top of the file
	if err := os.WriteFile(path, []byte(`{"level":"INFO","msg":"after truncate","process":"Process-7","time":"2026-01-01T10:00:06Z"}`+"\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	testutil.WaitForOutput(t, buf, "after truncate")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("followLogs() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("followLogs did not return after cancel")
	}
}

func TestFollowLogs_FileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.txt")
	buf := &testutil.SyncBuffer{}
	view, err := newLogView(buf, logging.LogFilter{})
	if err != nil {
		t.Fatalf("newLogView() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, path, view) }()

	testutil.WaitForOutput(t, buf, "Following")
	testutil.AppendLine(t, path, "plain text line")
	testutil.WaitForOutput(t, buf, "plain text line")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("followLogs() error = %v", err)
	}
}

func TestLoadSinkSpec(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Dir = t.TempDir()
	cfg.Sink.Console = false

	t.Run("from sink settings", func(t *testing.T) {
		spec, err := loadSinkSpec(cfg, "")
		if err != nil {
			t.Fatalf("loadSinkSpec() error = %v", err)
		}
		file, ok := spec.Handlers["file"]
		if !ok {
			t.Fatal("default spec has no file handler")
		}
		if file.Path != cfg.Sink.Path() {
			t.Errorf("file path = %q, want %q", file.Path, cfg.Sink.Path())
		}
		if _, ok := spec.Handlers["console"]; ok {
			t.Error("console handler present with sink.console=false")
		}
	})

	specYAML := `version: "1"
handlers:
  out:
    type: stream
    stream: stdout
root:
  handlers: [out]
`
	specPath := filepath.Join(t.TempDir(), "spec.yaml")
	if err := os.WriteFile(specPath, []byte(specYAML), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	t.Run("configured spec file", func(t *testing.T) {
		withFile := *cfg
		withFile.Listener.SpecFile = specPath
		spec, err := loadSinkSpec(&withFile, "")
		if err != nil {
			t.Fatalf("loadSinkSpec() error = %v", err)
		}
		if _, ok := spec.Handlers["out"]; !ok {
			t.Errorf("handlers = %v, want out", spec.Handlers)
		}
	})

	t.Run("explicit path wins", func(t *testing.T) {
		withFile := *cfg
		withFile.Listener.SpecFile = filepath.Join(t.TempDir(), "missing.yaml")
		if _, err := loadSinkSpec(&withFile, specPath); err != nil {
			t.Fatalf("loadSinkSpec() error = %v", err)
		}
	})

	t.Run("invalid sink settings", func(t *testing.T) {
		bad := *cfg
		bad.Sink.Format = "xml"
		if _, err := loadSinkSpec(&bad, ""); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestPrintEvent(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		event event.Event
		want  string
	}{
		{"started with pid", event.NewProcessStartedEvent("Process-1", event.RoleProducer, 42), "started producer Process-1 (pid 42)"},
		{"started in process", event.NewProcessStartedEvent("listener", event.RoleListener, 0), "started listener listener\n"},
		{"start failed", event.NewProcessStartFailedEvent("Process-2", event.RoleProducer, boom), "failed to start producer Process-2: boom"},
		{"finished", event.NewProcessExitedEvent("Process-1", event.RoleProducer, nil), "producer Process-1 finished"},
		{"exited", event.NewProcessExitedEvent("Process-1", event.RoleProducer, boom), "producer Process-1 exited: boom"},
		{"state", event.NewListenerStateEvent("configuring", "draining"), "listener: configuring -> draining"},
		{"sentinel", event.NewSentinelSentEvent(nil), "sentinel sent"},
		{"sentinel failed", event.NewSentinelSentEvent(boom), "sentinel not delivered: boom"},
		{"dispatch", event.NewDispatchFailedEvent("malformed", boom), "dispatch failed (malformed): boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.event)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printEvent() = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestRunInProcess(t *testing.T) {
	isolateConfig(t)
	t.Setenv("LOGFUNNEL_SINK_CONSOLE", "false")
	dir := t.TempDir()

	out, err := executeCommand(t, rootCmd, "run", "--in-process",
		"-p", "3", "-r", "4", "--log-dir", dir, "--format", "json")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Run complete: 3 of 3 producers started") {
		t.Errorf("missing summary:\n%s", out)
	}

	entries, err := logging.AggregateLogs(filepath.Join(dir, config.Default().Sink.FileName))
	if err != nil {
		t.Fatalf("AggregateLogs() error = %v", err)
	}
	perProducer := map[string]int{}
	for _, e := range entries {
		if strings.HasPrefix(e.Process, "Process-") {
			perProducer[e.Process]++
		}
	}
	for _, name := range []string{"Process-1", "Process-2", "Process-3"} {
		if perProducer[name] != 4 {
			t.Errorf("%s wrote %d records, want 4 (all: %v)", name, perProducer[name], perProducer)
		}
	}
}

func TestLogsCommand(t *testing.T) {
	isolateConfig(t)
	path := testutil.WriteFile(t, "mptest_log.txt", sampleLog)

	out, err := executeCommand(t, rootCmd, "logs", "--file", path, "--process", "MainProcess", "-n", "0")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(out, "MainProcess") || strings.Contains(out, "Process-2") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = executeCommand(t, rootCmd, "logs", "--file", filepath.Join(t.TempDir(), "none.txt"))
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(out, "No logs found") {
		t.Errorf("missing not-found message:\n%s", out)
	}

	if _, err := executeCommand(t, rootCmd, "logs", "--file", path, "--since", "soon"); err == nil {
		t.Error("expected error for invalid --since")
	}
}

// Package testutil provides testing utilities for logfunnel tests.
package testutil

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/logging"
)

// SyncBuffer is a bytes.Buffer that is safe for concurrent writers, such as
// several in-process producers printing to the same output.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Len returns the number of bytes written so far.
func (b *SyncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// WaitFor polls cond until it holds or timeout passes, then fails the test.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// WaitForOutput waits until buf contains want.
func WaitForOutput(t *testing.T, buf *SyncBuffer, want string) {
	t.Helper()
	WaitFor(t, 5*time.Second, "output "+want, func() bool {
		return strings.Contains(buf.String(), want)
	})
}

// WriteFile writes content to name inside a fresh temporary directory and
// returns the file's path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// AppendLine appends line and a newline to path, creating the file if needed.
func AppendLine(t *testing.T, path, line string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("failed to append to %s: %v", path, err)
	}
}

// ReadSinkEntries parses a JSON sink file in file order.
func ReadSinkEntries(t *testing.T, path string) []logging.LogEntry {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open sink file: %v", err)
	}
	defer func() { _ = f.Close() }()
	entries, err := logging.ReadLogEntries(f)
	if err != nil {
		t.Fatalf("failed to read sink file: %v", err)
	}
	return entries
}

// CountByProcess returns how many entries each process wrote.
func CountByProcess(entries []logging.LogEntry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Process]++
	}
	return counts
}

// SkipIfNoGolangciLint skips the test if golangci-lint is not installed.
func SkipIfNoGolangciLint(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not found in PATH, skipping test")
	}
}

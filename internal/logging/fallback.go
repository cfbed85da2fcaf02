package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

// Fallback reports diagnostics that cannot travel through the normal logging
// path: emission failures in producers and dispatch failures in the listener.
// Reports are single lines written to stderr unless another writer is given.
// A nil *Fallback writes to stderr.
type Fallback struct {
	mu    sync.Mutex
	w     io.Writer
	count atomic.Int64
}

// NewFallback creates a Fallback writing to w. A nil w means os.Stderr.
func NewFallback(w io.Writer) *Fallback {
	if w == nil {
		w = os.Stderr
	}
	return &Fallback{w: w}
}

// Report writes one diagnostic line for err, prefixed with source. Critical
// errors, such as a panicked producer, are labelled "Error"; everything else
// is a warning.
func (f *Fallback) Report(source string, err error) {
	if err == nil {
		return
	}
	label := "Warning"
	if ferrors.GetSeverity(err) >= ferrors.SeverityCritical {
		label = "Error"
	}
	f.write(label, fmt.Sprintf("%s: %v", source, err))
}

// Reportf writes one formatted warning line.
func (f *Fallback) Reportf(format string, args ...any) {
	f.write("Warning", fmt.Sprintf(format, args...))
}

func (f *Fallback) write(label, line string) {
	if f == nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", label, line)
		return
	}
	f.count.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, "%s: %s\n", label, line)
}

// Count returns how many reports were written.
func (f *Fallback) Count() int64 {
	if f == nil {
		return 0
	}
	return f.count.Load()
}

package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Color modes for StreamHandler.
const (
	ColorAuto  = "auto"
	ColorNever = "never"
)

// StreamOptions configures a StreamHandler.
type StreamOptions struct {
	// Name identifies the handler in diagnostics.
	Name string
	// Formatter renders records. Defaults to TextFormatter.
	Formatter Formatter
	// Color is ColorAuto (colour when the stream is a terminal) or
	// ColorNever. Defaults to ColorAuto.
	Color string
	// Palette maps levels to colours. Defaults to DefaultPalette.
	Palette *Palette
}

// StreamHandler writes formatted records to a console stream, colouring each
// entry by level when attached to a terminal.
type StreamHandler struct {
	mu     sync.Mutex
	name   string
	format Formatter
	bw     *bufio.Writer
	styles map[record.Level]lipgloss.Style
}

// NewStreamHandler returns a handler writing to w.
func NewStreamHandler(w io.Writer, opts StreamOptions) *StreamHandler {
	if opts.Formatter == nil {
		opts.Formatter = TextFormatter{}
	}
	if opts.Name == "" {
		opts.Name = "console"
	}
	h := &StreamHandler{name: opts.Name, format: opts.Formatter, bw: bufio.NewWriter(w)}

	if opts.Color != ColorNever && isTerminal(w) {
		palette := opts.Palette
		if palette == nil {
			palette = DefaultPalette()
		}
		h.styles = palette.Styles(lipgloss.NewRenderer(w))
	}
	return h
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Name returns the handler name.
func (h *StreamHandler) Name() string { return h.name }

// Colored reports whether entries are styled.
func (h *StreamHandler) Colored() bool { return h.styles != nil }

// Handle formats r and writes it to the stream. Output is buffered until
// Flush; records at WARNING or above flush immediately.
func (h *StreamHandler) Handle(r *record.Record) error {
	data, err := h.format.Format(r)
	if err != nil {
		return err
	}
	if style, ok := h.styles[r.Level]; ok {
		data = []byte(style.Render(strings.TrimRight(string(data), "\n")) + "\n")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.bw.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", h.name, err)
	}
	if r.Level >= record.LevelWarning {
		return h.bw.Flush()
	}
	return nil
}

// Flush writes buffered output.
func (h *StreamHandler) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bw.Flush()
}

// Close flushes buffered output. The underlying stream stays open.
func (h *StreamHandler) Close() error {
	return h.Flush()
}

package sink

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// FileOptions configures a FileHandler.
type FileOptions struct {
	// Name identifies the handler in diagnostics.
	Name string
	// Formatter renders records. Defaults to TextFormatter.
	Formatter Formatter
	// Rotation controls size rotation and whether an existing file is
	// truncated on open.
	Rotation logging.RotationConfig
}

// FileHandler writes formatted records to a size-rotated file.
type FileHandler struct {
	mu     sync.Mutex
	name   string
	format Formatter
	w      *logging.RotatingWriter
}

// NewFileHandler opens path and returns a handler writing to it.
func NewFileHandler(path string, opts FileOptions) (*FileHandler, error) {
	w, err := logging.NewRotatingWriter(path, opts.Rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink file %s: %w", path, err)
	}
	if opts.Formatter == nil {
		opts.Formatter = TextFormatter{}
	}
	if opts.Name == "" {
		opts.Name = "file"
	}
	return &FileHandler{name: opts.Name, format: opts.Formatter, w: w}, nil
}

// Name returns the handler name.
func (h *FileHandler) Name() string { return h.name }

// Path returns the file being written.
func (h *FileHandler) Path() string { return h.w.FilePath() }

// Rotations returns how many times the file has rotated.
func (h *FileHandler) Rotations() int { return h.w.Rotations() }

// Handle formats r and appends it to the file.
func (h *FileHandler) Handle(r *record.Record) error {
	data, err := h.format.Format(r)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", h.w.FilePath(), err)
	}
	return nil
}

// Flush syncs the file to disk.
func (h *FileHandler) Flush() error {
	return h.w.Sync()
}

// Close syncs and closes the file.
func (h *FileHandler) Close() error {
	return h.w.Close()
}

// Package sink holds the listener-side output configuration: handlers that
// write records to files and streams, the dotted-name logger registry that
// routes records to them, and the YAML spec that builds both.
//
// Only the listener process builds sinks. Producers never touch them.
package sink

import (
	"fmt"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Handler writes records to a destination.
type Handler interface {
	Handle(r *record.Record) error
	Flush() error
	Close() error
}

// ConfigureFunc is the listener configuration callable. It is invoked
// exactly once with the registry before any record is read.
type ConfigureFunc func(reg *Registry) error

// named is implemented by handlers that carry a configured name.
type named interface {
	Name() string
}

func handlerName(h Handler) string {
	if n, ok := h.(named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// LevelHandler drops records below a threshold before passing them on.
type LevelHandler struct {
	Handler
	level record.Level
	name  string
}

// WithLevel wraps h so it only sees records at or above level.
func WithLevel(h Handler, level record.Level) *LevelHandler {
	return &LevelHandler{Handler: h, level: level, name: handlerName(h)}
}

// Handle forwards r when it passes the threshold.
func (h *LevelHandler) Handle(r *record.Record) error {
	if r.Level < h.level {
		return nil
	}
	return h.Handler.Handle(r)
}

// Level returns the threshold.
func (h *LevelHandler) Level() record.Level { return h.level }

// Name returns the wrapped handler's name.
func (h *LevelHandler) Name() string { return h.name }

// HandlerFunc adapts a function to Handler. Flush and Close are no-ops.
type HandlerFunc func(r *record.Record) error

// Handle calls f(r).
func (f HandlerFunc) Handle(r *record.Record) error { return f(r) }

// Flush does nothing.
func (f HandlerFunc) Flush() error { return nil }

// Close does nothing.
func (f HandlerFunc) Close() error { return nil }

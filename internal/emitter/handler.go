package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Handler adapts an Emitter to slog.Handler. Recoverable emission failures
// go to the fallback reporter and Handle returns nil; shutdown errors are
// returned so the log call can propagate them.
type Handler struct {
	em     *Emitter
	attrs  []slog.Attr
	prefix string
}

// NewHandler creates a Handler for em.
func NewHandler(em *Emitter) *Handler {
	return &Handler{em: em}
}

// Enabled reports whether level passes the producer-side threshold.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.em.opts.Level.Slog()
}

// Handle builds a record from r and emits it.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	rec := record.New(record.RootLogger, record.FromSlog(r.Level), r.Message)
	if !r.Time.IsZero() {
		rec.Timestamp = r.Time
	}

	for _, a := range h.attrs {
		h.apply(rec, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.apply(rec, h.prefix, a)
		return true
	})

	err := h.em.Emit(ctx, rec)
	if !ferrors.IsRecoverable(err) {
		return err
	}
	h.em.opts.Fallback.Report(h.em.opts.ProcessName, err)
	return nil
}

func (h *Handler) apply(rec *record.Record, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if prefix == "" {
		switch a.Key {
		case logging.LoggerKey:
			if a.Value.Kind() == slog.KindString {
				rec.LoggerName = a.Value.String()
				return
			}
		case logging.ErrorKey:
			if err, ok := a.Value.Any().(error); ok {
				rec.Failure = record.CaptureFailure(err)
				return
			}
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.apply(rec, groupPrefix, ga)
		}
		return
	}

	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	rec.Attrs[prefix+a.Key] = formatValue(a.Value)
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// WithAttrs returns a Handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

// WithGroup returns a Handler that qualifies later attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = strings.TrimSuffix(h.prefix+name, ".") + "."
	return &c
}

package sink

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Formatter renders a record into one output entry, newline included.
type Formatter interface {
	Format(r *record.Record) ([]byte, error)
}

// TextFormatter renders
// "time process logger level message" with padded process and level columns,
// followed by attributes and failure text.
type TextFormatter struct{}

// Format implements Formatter.
func (TextFormatter) Format(r *record.Record) ([]byte, error) {
	return []byte(logging.FormatText(entryFromRecord(r)) + "\n"), nil
}

// JSONFormatter renders one JSON object per line, readable by
// logging.AggregateLogs.
type JSONFormatter struct{}

// Format implements Formatter.
func (JSONFormatter) Format(r *record.Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
	}
	return append(data, '\n'), nil
}

// FormatterFor returns the formatter for a format name.
func FormatterFor(format string) (Formatter, error) {
	switch format {
	case "", "text":
		return TextFormatter{}, nil
	case "json":
		return JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (supported: text, json)", format)
	}
}

func entryFromRecord(r *record.Record) logging.LogEntry {
	entry := logging.LogEntry{
		Timestamp: r.Timestamp,
		Level:     r.Level.String(),
		Message:   r.Message,
		Logger:    r.LoggerName,
		Process:   r.ProcessName,
		PID:       r.PID,
		ID:        r.ID.String(),
		Failure:   r.FailureText,
	}
	if len(r.Attrs) > 0 {
		entry.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			entry.Attrs[k] = v
		}
	}
	return entry
}

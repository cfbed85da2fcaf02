package logging

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// LogEntry is one parsed line of a JSON sink file.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Logger    string         `json:"logger,omitempty"`
	Process   string         `json:"process,omitempty"`
	PID       int            `json:"pid,omitempty"`
	ID        string         `json:"id,omitempty"`
	Failure   string         `json:"failure,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter defines criteria for filtering log entries.
// Multiple criteria combine with AND logic.
type LogFilter struct {
	// Level keeps entries at or above this level. Empty means no filtering.
	Level string

	// StartTime and EndTime bound entry timestamps (inclusive). Zero values
	// mean no bound.
	StartTime time.Time
	EndTime   time.Time

	// LoggerPattern is a glob over dotted logger names, e.g. "a.*" or "a.b.?".
	LoggerPattern string

	// Process keeps entries from this process name only.
	Process string

	// MessageContains keeps entries whose message contains this substring.
	MessageContains string

	// MessagePattern keeps entries whose message matches this regular
	// expression.
	MessagePattern string
}

// CompiledFilter is a LogFilter with its patterns compiled.
type CompiledFilter struct {
	LogFilter
	minLevel record.Level
	logger   glob.Glob
	message  *regexp.Regexp
}

// Compile validates the filter and compiles its patterns.
func (f LogFilter) Compile() (*CompiledFilter, error) {
	cf := &CompiledFilter{LogFilter: f}

	if f.Level != "" {
		lvl, err := record.ParseLevel(f.Level)
		if err != nil {
			return nil, err
		}
		cf.minLevel = lvl
	}
	if f.LoggerPattern != "" {
		g, err := glob.Compile(f.LoggerPattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid logger pattern %q: %w", f.LoggerPattern, err)
		}
		cf.logger = g
	}
	if f.MessagePattern != "" {
		re, err := regexp.Compile(f.MessagePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid message pattern %q: %w", f.MessagePattern, err)
		}
		cf.message = re
	}
	return cf, nil
}

// AggregateLogs reads and parses every entry of a JSON sink file.
// Lines that do not parse are skipped. Entries are returned sorted by
// timestamp; entries with equal timestamps keep file order.
func AggregateLogs(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	entries, err := ReadLogEntries(file)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ReadLogEntries parses JSON sink lines from r in file order.
func ReadLogEntries(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)

	const maxScanTokenSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseLogEntry(line)
		if err != nil {
			// Partial recovery from corrupted or non-JSON lines.
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

var standardFields = map[string]bool{
	"time":    true,
	"level":   true,
	"msg":     true,
	"logger":  true,
	"process": true,
	"pid":     true,
	"id":      true,
	"failure": true,
	"attrs":   true,
}

// ParseLogEntry parses a single JSON sink line.
func ParseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}

	if timeStr, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.Logger, _ = raw["logger"].(string)
	entry.Process, _ = raw["process"].(string)
	entry.ID, _ = raw["id"].(string)
	entry.Failure, _ = raw["failure"].(string)
	switch pid := raw["pid"].(type) {
	case float64:
		entry.PID = int(pid)
	case string:
		entry.PID, _ = strconv.Atoi(pid)
	}

	if nested, ok := raw["attrs"].(map[string]any); ok {
		for k, v := range nested {
			entry.Attrs[k] = v
		}
	}
	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}

	return entry, nil
}

// FilterLogs filters entries. An invalid filter matches nothing and returns
// the compile error.
func FilterLogs(entries []LogEntry, filter LogFilter) ([]LogEntry, error) {
	if isEmptyFilter(filter) {
		return entries, nil
	}
	cf, err := filter.Compile()
	if err != nil {
		return nil, err
	}

	var filtered []LogEntry
	for _, entry := range entries {
		if cf.Match(entry) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// isEmptyFilter checks if no filter criteria are set.
func isEmptyFilter(f LogFilter) bool {
	return f == (LogFilter{})
}

// Match reports whether entry satisfies every criterion.
func (cf *CompiledFilter) Match(entry LogEntry) bool {
	if cf.Level != "" {
		lvl, err := record.ParseLevel(entry.Level)
		if err == nil && lvl < cf.minLevel {
			return false
		}
	}

	if !cf.StartTime.IsZero() && entry.Timestamp.Before(cf.StartTime) {
		return false
	}
	if !cf.EndTime.IsZero() && entry.Timestamp.After(cf.EndTime) {
		return false
	}

	if cf.logger != nil {
		name := entry.Logger
		if name == "" {
			name = "root"
		}
		if !cf.logger.Match(name) {
			return false
		}
	}

	if cf.Process != "" && entry.Process != cf.Process {
		return false
	}
	if cf.MessageContains != "" && !strings.Contains(entry.Message, cf.MessageContains) {
		return false
	}
	if cf.message != nil && !cf.message.MatchString(entry.Message) {
		return false
	}
	return true
}

// ExportLogEntries writes entries to outputPath.
// Supported formats: "json", "text", "csv".
func ExportLogEntries(entries []LogEntry, outputPath string, format string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return WriteLogEntries(file, entries, format)
}

// WriteLogEntries writes entries to w in the given format.
func WriteLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return exportJSON(w, entries)
	case "text":
		return exportText(w, entries)
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: json, text, csv)", format)
	}
}

func exportJSON(w io.Writer, entries []LogEntry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

// FormatText renders one entry the way the text sink does:
// time, process name, logger, level, message, then failure text.
func FormatText(entry LogEntry) string {
	logger := entry.Logger
	if logger == "" {
		logger = "root"
	}
	ts := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s %-10s %s %-8s %s", ts, entry.Process, logger, entry.Level, entry.Message)
	if len(entry.Attrs) > 0 {
		attrsJSON, _ := json.Marshal(entry.Attrs)
		line += " " + string(attrsJSON)
	}
	if entry.Failure != "" {
		line += "\n" + strings.TrimRight(entry.Failure, "\n")
	}
	return line
}

func exportText(w io.Writer, entries []LogEntry) error {
	for _, entry := range entries {
		if _, err := io.WriteString(w, FormatText(entry)+"\n"); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []LogEntry) error {
	writer := csv.NewWriter(w)

	headers := []string{"timestamp", "level", "logger", "process", "pid", "message", "id", "failure", "attrs"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		attrsJSON := ""
		if len(entry.Attrs) > 0 {
			if b, err := json.Marshal(entry.Attrs); err == nil {
				attrsJSON = string(b)
			}
		}

		row := []string{
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.Level,
			entry.Logger,
			entry.Process,
			strconv.Itoa(entry.PID),
			entry.Message,
			entry.ID,
			entry.Failure,
			attrsJSON,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

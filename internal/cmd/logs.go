package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
	"github.com/Iron-Ham/logfunnel/internal/sink"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the aggregated sink file",
	Long: `View and filter the sink file written by the listener.

JSON sink files are parsed and filtered; text sink lines are shown as
written.

Examples:
  # Show the last 50 records
  logfunnel logs

  # Show everything from one producer
  logfunnel logs --process Process-3 -n 0

  # Follow the file while 'logfunnel run' is writing it
  logfunnel logs -f

  # Warnings and above from the a.* loggers
  logfunnel logs --level warning --logger 'a.*'

  # Records from the last ten minutes matching a pattern
  logfunnel logs --since 10m --grep "message #[12]"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsFile    string
	logsTail    int
	logsFollow  bool
	logsLevel   string
	logsLogger  string
	logsProcess string
	logsSince   string
	logsGrep    string
	logsFormat  string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "Sink file (default: sink.dir/sink.file_name)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warning/error/critical)")
	logsCmd.Flags().StringVar(&logsLogger, "logger", "", "Filter by logger name glob (e.g. 'a.*')")
	logsCmd.Flags().StringVar(&logsProcess, "process", "", "Filter by producer process name")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter messages matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "pretty", "Output format (pretty/text/json/csv)")
}

// logView renders sink lines through a filter.
type logView struct {
	out    io.Writer
	filter *logging.CompiledFilter
	styles map[record.Level]lipgloss.Style
}

func newLogView(out io.Writer, filter logging.LogFilter) (*logView, error) {
	cf, err := filter.Compile()
	if err != nil {
		return nil, err
	}
	v := &logView{out: out, filter: cf}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		v.styles = sink.DefaultPalette().Styles(lipgloss.NewRenderer(out))
	}
	return v, nil
}

// render returns the display form of one sink line, or false if the line is
// filtered out. Lines that are not JSON records pass through unchanged.
func (v *logView) render(line string) (string, bool) {
	entry, err := logging.ParseLogEntry(line)
	if err != nil {
		return line, true
	}
	if !v.filter.Match(entry) {
		return "", false
	}
	text := logging.FormatText(entry)
	if level, err := record.ParseLevel(entry.Level); err == nil && v.styles != nil {
		text = v.styles[level].Render(text)
	}
	return text, true
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Sink.Path()
	}

	filter := logging.LogFilter{
		Level:          logsLevel,
		LoggerPattern:  logsLogger,
		Process:        logsProcess,
		MessagePattern: logsGrep,
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}

	out := cmd.OutOrStdout()

	// Follow mode
	if logsFollow {
		view, err := newLogView(out, filter)
		if err != nil {
			return err
		}
		return followLogs(cmd.Context(), path, view)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", path)
		return nil
	}

	if logsFormat != "pretty" {
		return exportLogs(out, path, filter, logsTail, logsFormat)
	}

	view, err := newLogView(out, filter)
	if err != nil {
		return err
	}
	return displayLogs(path, logsTail, view)
}

// displayLogs reads the sink file and displays filtered entries
func displayLogs(path string, tail int, view *logView) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for long failure text
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if text, ok := view.render(line); ok {
			lines = append(lines, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	// Apply tail limit
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}

	for _, line := range lines {
		fmt.Fprintln(view.out, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(view.out, "No matching log entries found.")
	}
	return nil
}

// exportLogs writes the filtered JSON records in a machine format.
func exportLogs(out io.Writer, path string, filter logging.LogFilter, tail int, format string) error {
	entries, err := logging.AggregateLogs(path)
	if err != nil {
		return err
	}
	entries, err = logging.FilterLogs(entries, filter)
	if err != nil {
		return err
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return logging.WriteLogEntries(out, entries, format)
}

// followLogs implements tail -f over the sink file. The directory is watched
// so that a truncated, rotated or newly created file is picked up.
func followLogs(ctx context.Context, path string, view *logView) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	t := &tailer{path: path, view: view}
	defer t.close()
	if err := t.open(true); err != nil {
		return err
	}

	fmt.Fprintf(view.out, "Following %s... (Ctrl+C to stop)\n\n", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				t.close()
				if err := t.open(false); err != nil {
					return err
				}
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				t.close()
			}
			if err := t.read(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching log file: %w", err)
		}
	}
}

// tailer reads complete lines appended to a file.
type tailer struct {
	path    string
	view    *logView
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial string
}

// open opens the file if it exists, either at its end or its start.
func (t *tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	t.offset = 0
	if atEnd {
		if t.offset, err = f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to seek to end: %w", err)
		}
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.partial = ""
	return nil
}

func (t *tailer) close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

// read prints every complete line written since the last read. A file that
// shrank was truncated and is read again from the start.
func (t *tailer) read() error {
	if t.file == nil {
		if err := t.open(false); err != nil || t.file == nil {
			return err
		}
	}
	if info, err := t.file.Stat(); err == nil && info.Size() < t.offset {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind log file: %w", err)
		}
		t.offset = 0
		t.reader.Reset(t.file)
		t.partial = ""
	}

	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		if err != nil {
			if err == io.EOF {
				t.partial += chunk
				return nil
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line := strings.TrimRight(t.partial+chunk, "\r\n")
		t.partial = ""
		if line == "" {
			continue
		}
		if text, ok := t.view.render(line); ok {
			fmt.Fprintln(t.view.out, text)
		}
	}
}

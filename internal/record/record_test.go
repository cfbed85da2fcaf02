package record

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/google/uuid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"Warning", LevelWarning, false},
		{"error", LevelError, false},
		{"critical", LevelCritical, false},
		{" fatal ", LevelCritical, false},
		{"loud", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := Levels()
	for i := 1; i < len(levels); i++ {
		if levels[i-1] >= levels[i] {
			t.Errorf("%v should sort below %v", levels[i-1], levels[i])
		}
	}
}

func TestLevelSlogMapping(t *testing.T) {
	for _, l := range Levels() {
		if got := FromSlog(l.Slog()); got != l {
			t.Errorf("FromSlog(%v.Slog()) = %v", l, got)
		}
	}
	if FromSlog(slog.Level(-8)) != LevelDebug {
		t.Error("levels below debug should map to DEBUG")
	}
	if FromSlog(slog.Level(20)) != LevelCritical {
		t.Error("levels above critical should map to CRITICAL")
	}
}

func TestRecordValidate(t *testing.T) {
	valid := New("a.b.c", LevelInfo, "hello")
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on a fresh record = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"nil id", func(r *Record) { r.ID = uuid.Nil }},
		{"bad level", func(r *Record) { r.Level = Level(7) }},
		{"zero time", func(r *Record) { r.Timestamp = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := *valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	var nilRecord *Record
	if err := nilRecord.Validate(); err == nil {
		t.Error("Validate() on nil record should fail")
	}
}

func TestDisplayName(t *testing.T) {
	if got := New(RootLogger, LevelInfo, "x").DisplayName(); got != "root" {
		t.Errorf("DisplayName() = %q, want root", got)
	}
	if got := New("d.e.f", LevelInfo, "x").DisplayName(); got != "d.e.f" {
		t.Errorf("DisplayName() = %q, want d.e.f", got)
	}
}

func TestPrepareForQueue(t *testing.T) {
	cause := errors.New("disk on fire")
	r := New("a", LevelError, "failed")
	r.Failure = CaptureFailure(fmt.Errorf("write log: %w", cause))

	r.PrepareForQueue()

	if r.Failure != nil {
		t.Fatal("Failure should be cleared after PrepareForQueue")
	}
	if !strings.Contains(r.FailureText, "write log: disk on fire") {
		t.Errorf("FailureText missing error message: %q", r.FailureText)
	}
	if !strings.Contains(r.FailureText, "caused by *errors.errorString: disk on fire") {
		t.Errorf("FailureText missing cause chain: %q", r.FailureText)
	}
	if !strings.Contains(r.FailureText, "goroutine") {
		t.Errorf("FailureText missing stack: %q", r.FailureText)
	}

	// Second call is a no-op.
	text := r.FailureText
	r.PrepareForQueue()
	if r.FailureText != text {
		t.Error("PrepareForQueue should be idempotent")
	}
}

func TestCaptureFailureNil(t *testing.T) {
	if CaptureFailure(nil) != nil {
		t.Error("CaptureFailure(nil) should be nil")
	}
	var f *Failure
	if f.Render() != "" {
		t.Error("Render on nil failure should be empty")
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	r := New("a.b.c", LevelWarning, "Random message #2")
	r.ProcessName = "Process-1"
	r.PID = 1234
	r.FailureText = "Traceback: boom"
	r.Attrs = map[string]string{"key": "value"}

	data, err := Encode(RecordFrame(r))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("encoded frame should be newline terminated")
	}

	f, err := Decode(data[:len(data)-1])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.IsSentinel() {
		t.Fatal("decoded record frame reported as sentinel")
	}
	got := f.Record
	if got.ID != r.ID || got.LoggerName != r.LoggerName || got.Level != r.Level ||
		got.Message != r.Message || got.ProcessName != r.ProcessName || got.PID != r.PID {
		t.Errorf("decoded record = %+v, want %+v", got, r)
	}
	if !got.Timestamp.Equal(r.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, r.Timestamp)
	}
	if got.FailureText != r.FailureText {
		t.Errorf("FailureText = %q, want %q", got.FailureText, r.FailureText)
	}
	if got.Failure != nil {
		t.Error("Failure must never survive transport")
	}
	if got.Attrs["key"] != "value" {
		t.Errorf("Attrs = %v", got.Attrs)
	}
}

func TestEncodeRejectsRawFailure(t *testing.T) {
	r := New("a", LevelError, "x")
	r.Failure = CaptureFailure(errors.New("boom"))

	_, err := Encode(RecordFrame(r))
	if !errors.Is(err, ferrors.ErrEncodeRecord) {
		t.Fatalf("Encode() error = %v, want ErrEncodeRecord", err)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"nil record", Frame{Kind: KindRecord}},
		{"unknown kind", Frame{Kind: "bogus"}},
		{"invalid level", RecordFrame(&Record{ID: uuid.New(), Level: 3, Timestamp: time.Now()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.frame); !errors.Is(err, ferrors.ErrEncodeRecord) {
				t.Errorf("Encode() error = %v, want ErrEncodeRecord", err)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "hello"},
		{"unknown kind", `{"kind":"other"}`},
		{"record without body", `{"kind":"record"}`},
		{"bad level", `{"kind":"record","record":{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","level":"LOUD","time":"2024-01-01T00:00:00Z"}}`},
		{"missing time", `{"kind":"record","record":{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","level":"INFO"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.line))
			if !errors.Is(err, ferrors.ErrMalformedRecord) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformedRecord", tt.line, err)
			}
		})
	}
}

func TestDecoderContinuesAfterMalformedLine(t *testing.T) {
	first := New("a", LevelInfo, "first")
	second := New("a", LevelInfo, "second")

	var sb strings.Builder
	for _, f := range []Frame{RecordFrame(first)} {
		data, _ := Encode(f)
		sb.Write(data)
	}
	sb.WriteString("{garbage\n\n")
	for _, f := range []Frame{RecordFrame(second), SentinelFrame()} {
		data, _ := Encode(f)
		sb.Write(data)
	}

	dec := NewDecoder(strings.NewReader(sb.String()))

	f, err := dec.Next()
	if err != nil || f.Record.Message != "first" {
		t.Fatalf("first Next() = %+v, %v", f, err)
	}
	if _, err := dec.Next(); !errors.Is(err, ferrors.ErrMalformedRecord) {
		t.Fatalf("second Next() error = %v, want malformed", err)
	}
	f, err = dec.Next()
	if err != nil || f.Record.Message != "second" {
		t.Fatalf("third Next() = %+v, %v", f, err)
	}
	f, err = dec.Next()
	if err != nil || !f.IsSentinel() {
		t.Fatalf("fourth Next() = %+v, %v; want sentinel", f, err)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("final Next() error = %v, want io.EOF", err)
	}
}

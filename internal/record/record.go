// Package record defines the unit of data that crosses process boundaries in
// the aggregation pipeline: the event Record, the termination sentinel, and
// the JSON-lines wire codec that carries both.
//
// A Record is immutable once it has been enqueued. Anything that cannot be
// serialized (the raw failure context) is rendered to text by the producer and
// cleared before the record leaves the process.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootLogger is the name of the top-level logger.
const RootLogger = ""

// Record is a single log occurrence.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	LoggerName  string            `json:"logger"`
	Level       Level             `json:"level"`
	Message     string            `json:"msg"`
	ProcessName string            `json:"process"`
	PID         int               `json:"pid"`
	Timestamp   time.Time         `json:"time"`
	FailureText string            `json:"failure,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`

	// Failure is the raw failure context. It is only meaningful inside the
	// originating process and is never serialized.
	Failure *Failure `json:"-"`
}

// New creates a record stamped with a fresh ID and the current time.
func New(loggerName string, level Level, message string) *Record {
	return &Record{
		ID:         uuid.New(),
		LoggerName: loggerName,
		Level:      level,
		Message:    message,
		Timestamp:  time.Now(),
	}
}

// Validate reports whether the record can be dispatched.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	if r.ID == uuid.Nil {
		return fmt.Errorf("record has no id")
	}
	if !r.Level.Valid() {
		return fmt.Errorf("record %s has invalid level %d", r.ID, int(r.Level))
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("record %s has no timestamp", r.ID)
	}
	return nil
}

// DisplayName returns the logger name, using "root" for the top-level logger.
func (r *Record) DisplayName() string {
	if r.LoggerName == RootLogger {
		return "root"
	}
	return r.LoggerName
}

// PrepareForQueue renders the raw failure context into FailureText and drops
// it. It is idempotent.
func (r *Record) PrepareForQueue() {
	if r.Failure == nil {
		return
	}
	if r.FailureText == "" {
		r.FailureText = r.Failure.Render()
	}
	r.Failure = nil
}

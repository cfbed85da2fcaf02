// Package errors provides centralized error definitions and error handling utilities
// for logfunnel. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures in a pipeline stage:
//   - EmitError: a producer could not enqueue a record (queue full, encoding)
//   - DispatchError: the listener could not deliver a record (malformed, sink I/O)
//   - ProcessError: a listener or producer process failed to start or exited badly
//
// Semantic errors represent common error conditions:
//   - ShutdownError: the process is being torn down; never swallowed
//   - ValidationError: invalid input or configuration
//   - TimeoutError: a bounded wait expired
//
// # Recoverable vs shutdown
//
// Emission and dispatch failures are recoverable: they are reported to the
// fallback channel and the pipeline keeps going. Shutdown errors must be
// propagated to the caller untouched. Use [IsRecoverable] to tell them apart:
//
//	if err := emitter.Emit(ctx, rec); err != nil {
//	    if !errors.IsRecoverable(err) {
//	        return err
//	    }
//	    fallback.Report("emit", err)
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Queue-related sentinel errors
var (
	// ErrQueueFull indicates that the producer-side buffer cannot take another record.
	ErrQueueFull = New("queue full")
	// ErrQueueClosed indicates that the queue was closed before the operation.
	ErrQueueClosed = New("queue closed")
	// ErrQueueUnavailable indicates that the queue endpoint could not be reached.
	ErrQueueUnavailable = New("queue unavailable")
)

// Record-related sentinel errors
var (
	// ErrMalformedRecord indicates that a frame could not be decoded into a valid record.
	ErrMalformedRecord = New("malformed record")
	// ErrEncodeRecord indicates that a record could not be serialized.
	ErrEncodeRecord = New("record encoding failed")
)

// Process-related sentinel errors
var (
	// ErrProcessStartFailed indicates that a process failed to launch.
	ErrProcessStartFailed = New("process failed to start")
	// ErrProcessNotRunning indicates that an operation requires a running process.
	ErrProcessNotRunning = New("process not running")
	// ErrProcessAlreadyRunning indicates that Start was called twice.
	ErrProcessAlreadyRunning = New("process already running")
	// ErrListenerExited indicates that the listener exited before it was signaled.
	ErrListenerExited = New("listener exited")
)

// General sentinel errors
var (
	// ErrShutdown indicates that the process is being torn down.
	ErrShutdown = New("shutdown requested")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// FunnelError is the base interface for all logfunnel errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type FunnelError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// formatWithContext renders "<kind> [k=v, ...]: message: cause".
func formatWithContext(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// EmitError represents a failure to put a record onto the aggregation queue.
// Emit errors are recoverable: the record is dropped and the producer keeps
// running.
//
// Example:
//
//	err := errors.NewEmitError("enqueue failed", errors.ErrQueueFull).
//	    WithProcess("Process-1").WithLogger("a.b.c")
//	fmt.Println(err) // "emit error [process=Process-1, logger=a.b.c]: enqueue failed: queue full"
type EmitError struct {
	baseError
	ProcessName string
	LoggerName  string
}

// NewEmitError creates a new EmitError.
func NewEmitError(message string, cause error) *EmitError {
	return &EmitError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityWarning,
		},
	}
}

// WithProcess adds the originating process name to the error context.
func (e *EmitError) WithProcess(name string) *EmitError {
	e.ProcessName = name
	return e
}

// WithLogger adds the originating logger name to the error context.
func (e *EmitError) WithLogger(name string) *EmitError {
	e.LoggerName = name
	return e
}

// Error returns the formatted error message.
func (e *EmitError) Error() string {
	var parts []string
	if e.ProcessName != "" {
		parts = append(parts, fmt.Sprintf("process=%s", e.ProcessName))
	}
	if e.LoggerName != "" {
		parts = append(parts, fmt.Sprintf("logger=%s", e.LoggerName))
	}
	return formatWithContext("emit error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *EmitError) Is(target error) bool {
	if _, ok := target.(*EmitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DispatchError represents a failure in the listener while delivering a
// record to the sink handlers. Dispatch errors never stop the listener.
//
// Example:
//
//	err := errors.NewDispatchError("handler failed", ioErr).
//	    WithLogger("a.b.c").WithHandler("file")
type DispatchError struct {
	baseError
	LoggerName string
	RecordID   string
	Handler    string
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(message string, cause error) *DispatchError {
	return &DispatchError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithLogger adds the target logger name to the error context.
func (e *DispatchError) WithLogger(name string) *DispatchError {
	e.LoggerName = name
	return e
}

// WithRecordID adds the record ID to the error context.
func (e *DispatchError) WithRecordID(id string) *DispatchError {
	e.RecordID = id
	return e
}

// WithHandler adds the failing handler name to the error context.
func (e *DispatchError) WithHandler(name string) *DispatchError {
	e.Handler = name
	return e
}

// Error returns the formatted error message.
func (e *DispatchError) Error() string {
	var parts []string
	if e.LoggerName != "" {
		parts = append(parts, fmt.Sprintf("logger=%s", e.LoggerName))
	}
	if e.RecordID != "" {
		parts = append(parts, fmt.Sprintf("record=%s", e.RecordID))
	}
	if e.Handler != "" {
		parts = append(parts, fmt.Sprintf("handler=%s", e.Handler))
	}
	return formatWithContext("dispatch error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *DispatchError) Is(target error) bool {
	if _, ok := target.(*DispatchError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProcessError represents errors related to listener and producer processes.
//
// Example:
//
//	err := errors.NewProcessError("start failed", errors.ErrProcessStartFailed).
//	    WithProcess("Process-2").WithPID(4242)
type ProcessError struct {
	baseError
	ProcessName string
	PID         int
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithProcess adds the process name to the error context.
func (e *ProcessError) WithProcess(name string) *ProcessError {
	e.ProcessName = name
	return e
}

// WithPID adds the operating system process ID to the error context.
func (e *ProcessError) WithPID(pid int) *ProcessError {
	e.PID = pid
	return e
}

// WithSeverity sets the error severity.
func (e *ProcessError) WithSeverity(s Severity) *ProcessError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.ProcessName != "" {
		parts = append(parts, fmt.Sprintf("process=%s", e.ProcessName))
	}
	if e.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	return formatWithContext("process error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ShutdownError signals that the process is being torn down (interrupt,
// terminate, cancelled context). It must be propagated, never reported and
// swallowed.
type ShutdownError struct {
	baseError
}

// NewShutdownError creates a new ShutdownError with the given cause.
func NewShutdownError(cause error) *ShutdownError {
	return &ShutdownError{
		baseError: baseError{
			message:  "shutdown",
			cause:    cause,
			severity: SeverityInfo,
		},
	}
}

// Is checks if this error matches the target.
func (e *ShutdownError) Is(target error) bool {
	if _, ok := target.(*ShutdownError); ok {
		return true
	}
	if target == ErrShutdown {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or configuration.
//
// Example:
//
//	err := errors.NewValidationError("unknown level").WithField("level").WithValue("LOUD")
//	fmt.Println(err) // "validation error: level: unknown level (value: LOUD)"
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the value that failed validation.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error: ")
	if e.Field != "" {
		sb.WriteString(e.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(e.message)
	if e.Value != nil {
		sb.WriteString(fmt.Sprintf(" (value: %v)", e.Value))
	}
	if e.cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.cause))
	}
	return sb.String()
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents a bounded wait that expired.
//
// Example:
//
//	err := errors.NewTimeoutError("joining listener", 10*time.Second)
//	fmt.Println(err) // "timeout error: joining listener (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:  operation,
			severity: SeverityWarning,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsShutdown returns true if the error means the process is being torn down.
// This checks for:
//   - ShutdownError instances and errors wrapping ErrShutdown
//   - context.Canceled, which is what signal.NotifyContext produces
//
// Shutdown errors must be returned to the caller, not reported and dropped.
func IsShutdown(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrShutdown) || Is(err, context.Canceled)
}

// IsRecoverable returns true for failures that should be reported to the
// fallback channel while the pipeline keeps running: everything except
// shutdown.
func IsRecoverable(err error) bool {
	return err != nil && !IsShutdown(err)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement FunnelError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var funnelErr FunnelError
	if As(err, &funnelErr) {
		return funnelErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

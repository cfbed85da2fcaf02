package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "queue.buffer_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid producer levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "warn", "error", "critical"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateListener()...)
	errors = append(errors, c.validateSink()...)
	errors = append(errors, c.validateProducer()...)
	errors = append(errors, c.validateCoordinator()...)

	return errors
}

func positiveDuration(field string, d time.Duration) []ValidationError {
	if d > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: d, Message: "must be positive"}}
}

// validateQueue validates the QueueConfig
func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError

	if c.Queue.BufferSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.buffer_size",
			Value:   c.Queue.BufferSize,
			Message: "must not be negative (0 means unbounded)",
		})
	}

	// Unix socket paths are limited to about 104 bytes on most platforms
	const maxQueueDirLength = 80
	if len(c.Queue.Dir) > maxQueueDirLength {
		errors = append(errors, ValidationError{
			Field:   "queue.dir",
			Value:   c.Queue.Dir,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxQueueDirLength),
		})
	}

	errors = append(errors, positiveDuration("queue.drain_timeout", c.Queue.DrainTimeout)...)
	errors = append(errors, positiveDuration("queue.flush_timeout", c.Queue.FlushTimeout)...)

	return errors
}

// validateListener validates the ListenerConfig
func (c *Config) validateListener() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positiveDuration("listener.join_timeout", c.Listener.JoinTimeout)...)

	if c.Listener.StopGrace < 0 {
		errors = append(errors, ValidationError{
			Field:   "listener.stop_grace",
			Value:   c.Listener.StopGrace,
			Message: "must be non-negative",
		})
	}

	if c.Listener.MetricsAddr != "" && !strings.Contains(c.Listener.MetricsAddr, ":") {
		errors = append(errors, ValidationError{
			Field:   "listener.metrics_addr",
			Value:   c.Listener.MetricsAddr,
			Message: "must be a host:port address",
		})
	}

	return errors
}

// validateSink validates the SinkConfig
func (c *Config) validateSink() []ValidationError {
	var errors []ValidationError

	if c.Sink.FileName == "" {
		errors = append(errors, ValidationError{
			Field:   "sink.file_name",
			Value:   c.Sink.FileName,
			Message: "must not be empty",
		})
	} else if strings.ContainsAny(c.Sink.FileName, `/\`) || strings.ContainsRune(c.Sink.FileName, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "sink.file_name",
			Value:   c.Sink.FileName,
			Message: "must be a plain file name",
		})
	}

	if strings.ContainsRune(c.Sink.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "sink.dir",
			Value:   c.Sink.Dir,
			Message: "path contains invalid null character",
		})
	}

	if !slices.Contains(ValidSinkFormats(), c.Sink.Format) {
		errors = append(errors, ValidationError{
			Field:   "sink.format",
			Value:   c.Sink.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSinkFormats(), ", ")),
		})
	}

	if !slices.Contains(ValidSinkModes(), c.Sink.Mode) {
		errors = append(errors, ValidationError{
			Field:   "sink.mode",
			Value:   c.Sink.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSinkModes(), ", ")),
		})
	}

	if c.Sink.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "sink.max_size_mb",
			Value:   c.Sink.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Sink.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "sink.max_size_mb",
			Value:   c.Sink.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Sink.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "sink.max_backups",
			Value:   c.Sink.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateProducer validates the ProducerConfig
func (c *Config) validateProducer() []ValidationError {
	var errors []ValidationError

	if c.Producer.Count < 0 {
		errors = append(errors, ValidationError{
			Field:   "producer.count",
			Value:   c.Producer.Count,
			Message: "must be non-negative",
		})
	}

	if c.Producer.Records < 0 {
		errors = append(errors, ValidationError{
			Field:   "producer.records",
			Value:   c.Producer.Records,
			Message: "must be non-negative",
		})
	}

	if c.Producer.Interval < 0 {
		errors = append(errors, ValidationError{
			Field:   "producer.interval",
			Value:   c.Producer.Interval,
			Message: "must be non-negative",
		})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Producer.Level)) {
		errors = append(errors, ValidationError{
			Field:   "producer.level",
			Value:   c.Producer.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateCoordinator validates the CoordinatorConfig
func (c *Config) validateCoordinator() []ValidationError {
	if strings.TrimSpace(c.Coordinator.ProcessName) == "" {
		return []ValidationError{{
			Field:   "coordinator.process_name",
			Value:   c.Coordinator.ProcessName,
			Message: "must not be empty",
		}}
	}
	return nil
}

package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types.
const (
	TypeProcessStarted     = "process.started"
	TypeProcessStartFailed = "process.start_failed"
	TypeProcessExited      = "process.exited"
	TypeListenerState      = "listener.state"
	TypeSentinelSent       = "sentinel.sent"
	TypeDispatchFailed     = "dispatch.failed"
)

// Process roles.
const (
	RoleListener    = "listener"
	RoleProducer    = "producer"
	RoleCoordinator = "coordinator"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Process Lifecycle Events
// -----------------------------------------------------------------------------

// ProcessStartedEvent is emitted when a listener or producer launches.
type ProcessStartedEvent struct {
	baseEvent
	Name string // Process name stamped on its records
	Role string // RoleListener or RoleProducer
	PID  int    // OS process ID, 0 for in-process runs
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(name, role string, pid int) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent: newBaseEvent(TypeProcessStarted),
		Name:      name,
		Role:      role,
		PID:       pid,
	}
}

// ProcessStartFailedEvent is emitted when a process could not be launched.
type ProcessStartFailedEvent struct {
	baseEvent
	Name string
	Role string
	Err  error
}

// NewProcessStartFailedEvent creates a ProcessStartFailedEvent.
func NewProcessStartFailedEvent(name, role string, err error) ProcessStartFailedEvent {
	return ProcessStartFailedEvent{
		baseEvent: newBaseEvent(TypeProcessStartFailed),
		Name:      name,
		Role:      role,
		Err:       err,
	}
}

// ProcessExitedEvent is emitted once a started process has been joined.
type ProcessExitedEvent struct {
	baseEvent
	Name string
	Role string
	Err  error // nil for a clean exit
}

// NewProcessExitedEvent creates a ProcessExitedEvent.
func NewProcessExitedEvent(name, role string, err error) ProcessExitedEvent {
	return ProcessExitedEvent{
		baseEvent: newBaseEvent(TypeProcessExited),
		Name:      name,
		Role:      role,
		Err:       err,
	}
}

// Success reports whether the process exited cleanly.
func (e ProcessExitedEvent) Success() bool { return e.Err == nil }

// -----------------------------------------------------------------------------
// Listener Events
// -----------------------------------------------------------------------------

// ListenerStateEvent is emitted on every listener loop transition.
type ListenerStateEvent struct {
	baseEvent
	Previous string
	Current  string
}

// NewListenerStateEvent creates a ListenerStateEvent.
func NewListenerStateEvent(previous, current string) ListenerStateEvent {
	return ListenerStateEvent{
		baseEvent: newBaseEvent(TypeListenerState),
		Previous:  previous,
		Current:   current,
	}
}

// DispatchFailedEvent is emitted when the listener could not deliver an item.
type DispatchFailedEvent struct {
	baseEvent
	Kind string // listener failure kind, e.g. "malformed" or "handler"
	Err  error
}

// NewDispatchFailedEvent creates a DispatchFailedEvent.
func NewDispatchFailedEvent(kind string, err error) DispatchFailedEvent {
	return DispatchFailedEvent{
		baseEvent: newBaseEvent(TypeDispatchFailed),
		Kind:      kind,
		Err:       err,
	}
}

// SentinelSentEvent is emitted when the coordinator posts the termination
// sentinel.
type SentinelSentEvent struct {
	baseEvent
	Err error // delivery failure, nil on success
}

// NewSentinelSentEvent creates a SentinelSentEvent.
func NewSentinelSentEvent(err error) SentinelSentEvent {
	return SentinelSentEvent{
		baseEvent: newBaseEvent(TypeSentinelSent),
		Err:       err,
	}
}

package listener

// State is a listener loop state.
type State int

const (
	// StateIdle is the state before Run.
	StateIdle State = iota
	// StateConfiguring applies the sink configuration, exactly once.
	StateConfiguring
	// StateDraining receives and dispatches items until the sentinel.
	StateDraining
	// StateStopping flushes and closes every handler. It is terminal.
	StateStopping
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

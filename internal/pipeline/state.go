// Package pipeline runs the two-stage capture pipeline. The configure stage
// takes requests from the request source, programs the sensor and acquires
// destination buffers; the readout stage waits for each frame, builds result
// metadata and returns buffers to their streams or to the compressor.
package pipeline

// State is a stage worker's lifecycle state.
type State int

const (
	// StateNotStarted is the state before the worker goroutine runs.
	StateNotStarted State = iota

	// StateIdle indicates the worker is waiting for work.
	StateIdle

	// StateActive indicates the worker is processing a unit.
	StateActive

	// StateStopped indicates the worker has exited.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsRunning returns true once the worker has started and until it stops.
func (s State) IsRunning() bool {
	return s == StateIdle || s == StateActive
}

// IsTerminal returns true if the worker has exited.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

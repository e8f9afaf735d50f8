// Package lifecycle runs the oxd daemon's long-lived parts (the HTTP
// listener, the expiry sweeper, storage clients) behind one state machine.
//
// The flow of a healthy daemon is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed. Stopped and Failed may move
// back to Starting for a restart.
//
// Start and Stop open OpenTelemetry spans under the tracer scope
// "github.com/zaphod72/oxd/pkg/lifecycle".
package lifecycle

// State is the lifecycle position of a [Service]. The zero value is not a
// valid state; services begin in [StateUnknown].
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	// StateRunning is the only state in which [Service.Health] passes.
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	// StateFailed is entered when a hook returns an error.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var transitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state moves
// are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

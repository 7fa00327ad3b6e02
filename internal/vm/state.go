package vm

import "time"

// State represents the VM lifecycle state.
type State int

const (
	StateIdle        State = iota
	StateLoading           // Reading the profile
	StateConfiguring       // Building and validating the device plan
	StateStarting          // Start requested, waiting for the hypervisor
	StateRunning           // Guest is running
	StateTerminated        // Final; see Controller.Err for the outcome
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateConfiguring:
		return "configuring"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time

	// Err is set on a transition to StateTerminated caused by a failure.
	Err error
}

// Failed reports whether the transition ended the launch with an error.
func (t Transition) Failed() bool {
	return t.To == StateTerminated && t.Err != nil
}

// Package lifecycle drives one generated DAG from generation to a
// successful run. Content defects send the session back to generation with
// the diagnostics that caused them; infrastructure faults are retried with
// bounded backoff and become fatal once their budget is spent.
package lifecycle

// State is a lifecycle state.
type State string

const (
	StateGenerate  State = "generate"
	StateSave      State = "save"
	StateRegister  State = "register"
	StateValidate  State = "validate"
	StateTest      State = "test"
	StateTrigger   State = "trigger"
	StateMonitor   State = "monitor"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// transitions lists the allowed next states. Every non-terminal state may
// move to StateFailed on a controller-level fatal fault.
var transitions = map[State][]State{
	StateGenerate: {StateSave},
	StateSave:     {StateRegister},
	StateRegister: {StateValidate},
	StateValidate: {StateTest, StateGenerate},
	StateTest:     {StateTrigger, StateGenerate},
	StateTrigger:  {StateMonitor},
	StateMonitor:  {StateMonitor, StateSucceeded, StateGenerate},
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

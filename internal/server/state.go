package server

import "slices"

// State is the lifecycle state of a [Server].
//
//	Idle → Starting → Serving → Draining → Stopped
//
// Starting and Serving may move to Failed when the listener cannot be
// opened or dies.
type State string

const (
	// StateIdle is a constructed server that has not been run.
	StateIdle State = "idle"

	// StateStarting is set while the listener is being opened.
	StateStarting State = "starting"

	// StateServing is the only state in which /healthz reports healthy.
	StateServing State = "serving"

	// StateDraining is set once shutdown begins; in-flight requests finish
	// but the server is no longer ready.
	StateDraining State = "draining"

	// StateStopped is a clean shutdown. Terminal.
	StateStopped State = "stopped"

	// StateFailed is an abnormal exit. Terminal.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether the server has exited.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

var validTransitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateServing, StateFailed},
	StateServing:  {StateDraining, StateFailed},
	StateDraining: {StateStopped, StateFailed},
}

// ValidTransition reports whether a server may move from one state to
// another. A server is run once; terminal states have no exits.
func ValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

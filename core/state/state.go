// Package state defines the browser session state machine.
package state

import "fmt"

// SessionState represents the state of the browser session.
type SessionState int

const (
	// StateIdle is the initial state before the browser starts.
	StateIdle SessionState = iota
	// StateStarting indicates the browser is being launched.
	StateStarting
	// StateNavigating indicates the session is walking to the target page.
	StateNavigating
	// StateReady indicates the page is idle and can take a request.
	StateReady
	// StateBusy indicates a generate or upscale request owns the page.
	StateBusy
	// StateStopping indicates the session is shutting down.
	StateStopping
	// StateStopped indicates the session has been terminated.
	StateStopped
)

// All lists every state in order.
var All = []SessionState{
	StateIdle, StateStarting, StateNavigating, StateReady, StateBusy, StateStopping, StateStopped,
}

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateNavigating:
		return "Navigating"
	case StateReady:
		return "Ready"
	case StateBusy:
		return "Busy"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Names returns the string form of every state.
func Names() []string {
	names := make([]string, len(All))
	for i, s := range All {
		names[i] = s.String()
	}
	return names
}

// validTransitions defines the allowed state transitions.
// Key is the current state, value is a list of valid target states.
var validTransitions = map[SessionState][]SessionState{
	StateIdle:       {StateStarting, StateStopped},
	StateStarting:   {StateNavigating, StateStopping, StateStopped},
	StateNavigating: {StateReady, StateStopping},
	StateReady:      {StateBusy, StateNavigating, StateStopping},
	StateBusy:       {StateReady, StateStopping},
	StateStopping:   {StateStopped},
	StateStopped:    {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if transitioning from the current state to the target state is valid.
func (s SessionState) CanTransitionTo(target SessionState) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidTransitions returns the list of valid target states from the current state.
func (s SessionState) ValidTransitions() []SessionState {
	return validTransitions[s]
}

// IsTerminal returns true if the state is a terminal state (no further transitions).
func (s SessionState) IsTerminal() bool {
	return s == StateStopped
}

// IsActive returns true if a browser process may be alive.
func (s SessionState) IsActive() bool {
	return s != StateIdle && s != StateStopped
}

// CanServe returns true if the session can take a page request.
func (s SessionState) CanServe() bool {
	return s == StateReady
}

// TransitionError represents an invalid state transition attempt.
type TransitionError struct {
	From   SessionState
	To     SessionState
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid state transition from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to SessionState, reason string) *TransitionError {
	return &TransitionError{From: from, To: to, Reason: reason}
}

package state

import "testing"

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateIdle, "Idle"},
		{StateStarting, "Starting"},
		{StateNavigating, "Navigating"},
		{StateReady, "Ready"},
		{StateBusy, "Busy"},
		{StateStopping, "Stopping"},
		{StateStopped, "Stopped"},
		{SessionState(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("SessionState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     SessionState
		to       SessionState
		expected bool
	}{
		{"Idle -> Starting", StateIdle, StateStarting, true},
		{"Idle -> Ready (invalid)", StateIdle, StateReady, false},

		{"Starting -> Navigating", StateStarting, StateNavigating, true},
		{"Starting -> Stopped", StateStarting, StateStopped, true},
		{"Starting -> Ready (invalid)", StateStarting, StateReady, false},

		{"Navigating -> Ready", StateNavigating, StateReady, true},
		{"Navigating -> Busy (invalid)", StateNavigating, StateBusy, false},

		{"Ready -> Busy", StateReady, StateBusy, true},
		{"Ready -> Navigating", StateReady, StateNavigating, true},
		{"Ready -> Stopping", StateReady, StateStopping, true},
		{"Ready -> Idle (invalid)", StateReady, StateIdle, false},

		{"Busy -> Ready", StateBusy, StateReady, true},
		{"Busy -> Stopping", StateBusy, StateStopping, true},
		{"Busy -> Busy (invalid)", StateBusy, StateBusy, false},

		{"Stopping -> Stopped", StateStopping, StateStopped, true},
		{"Stopping -> Ready (invalid)", StateStopping, StateReady, false},

		{"Stopped -> Idle (invalid)", StateStopped, StateIdle, false},
		{"Stopped -> Starting (invalid)", StateStopped, StateStarting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.expected {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionState_Predicates(t *testing.T) {
	tests := []struct {
		state    SessionState
		terminal bool
		active   bool
		serve    bool
	}{
		{StateIdle, false, false, false},
		{StateStarting, false, true, false},
		{StateNavigating, false, true, false},
		{StateReady, false, true, true},
		{StateBusy, false, true, false},
		{StateStopping, false, true, false},
		{StateStopped, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.state.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.state.CanServe(); got != tt.serve {
				t.Errorf("CanServe() = %v, want %v", got, tt.serve)
			}
		})
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != len(All) {
		t.Fatalf("Names() returned %d names, want %d", len(names), len(All))
	}
	if names[0] != "Idle" || names[len(names)-1] != "Stopped" {
		t.Errorf("Names() = %v", names)
	}
}

func TestTransitionError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransitionError
		expected string
	}{
		{
			"with reason",
			NewTransitionError(StateIdle, StateReady, "not allowed"),
			"invalid state transition from Idle to Ready: not allowed",
		},
		{
			"without reason",
			NewTransitionError(StateIdle, StateReady, ""),
			"invalid state transition from Idle to Ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

package event

import (
	"errors"
	"testing"
	"time"

	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
)

func TestEvent_Names(t *testing.T) {
	ev := generation.ErrorEvent{Kind: generation.KindNotification, Message: "boom"}
	tests := []struct {
		event    Event
		expected string
	}{
		{NewSessionStarted("s1", "https://x"), "SessionStarted"},
		{NewSessionStopped("s1", nil), "SessionStopped"},
		{NewSessionStateChanged("s1", state.StateIdle, state.StateStarting), "SessionStateChanged"},
		{NewNavigationCompleted("s1", "https://x", NavigationKeyboard), "NavigationCompleted"},
		{NewNavigationFailed("s1", "keyboard", errors.New("test")), "NavigationFailed"},
		{NewPageReloaded("s1", "transient"), "PageReloaded"},
		{NewErrorDetected("s1", "r1", ev), "ErrorDetected"},
		{NewGenerationStarted("s1", "r1", "p", 0), "GenerationStarted"},
		{NewUploadCompleted("s1", "r1", "/a.png", 1), "UploadCompleted"},
		{NewGenerationCompleted("s1", "r1", nil, 0, time.Second), "GenerationCompleted"},
		{NewGenerationFailed("s1", "r1", errors.New("test"), time.Second), "GenerationFailed"},
		{NewUpscaleCompleted("s1", "r1", 0, "2K", 10, time.Second), "UpscaleCompleted"},
		{NewUpscaleFailed("s1", "r1", errors.New("test"), time.Second), "UpscaleFailed"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.event.EventName(); got != tt.expected {
				t.Errorf("EventName() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRequestEvent_IDs(t *testing.T) {
	tests := []struct {
		name  string
		event RequestEvent
	}{
		{"ErrorDetected", NewErrorDetected("session-1", "request-1", generation.ErrorEvent{})},
		{"GenerationStarted", NewGenerationStarted("session-1", "request-1", "p", 2)},
		{"UploadCompleted", NewUploadCompleted("session-1", "request-1", "/a.png", 3)},
		{"GenerationCompleted", NewGenerationCompleted("session-1", "request-1", []string{"a"}, 1, 0)},
		{"GenerationFailed", NewGenerationFailed("session-1", "request-1", nil, 0)},
		{"UpscaleCompleted", NewUpscaleCompleted("session-1", "request-1", 1, "4K", 1, 0)},
		{"UpscaleFailed", NewUpscaleFailed("session-1", "request-1", nil, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.SessionID(); got != "session-1" {
				t.Errorf("SessionID() = %v, want session-1", got)
			}
			if got := tt.event.RequestID(); got != "request-1" {
				t.Errorf("RequestID() = %v, want request-1", got)
			}
		})
	}
}

func TestSessionStopped_Error(t *testing.T) {
	testErr := errors.New("test error")
	e := NewSessionStopped("s1", testErr)

	if e.Error != testErr {
		t.Errorf("Error = %v, want %v", e.Error, testErr)
	}
}

func TestSessionStateChanged_States(t *testing.T) {
	e := NewSessionStateChanged("s1", state.StateReady, state.StateBusy)

	if e.OldState != state.StateReady {
		t.Errorf("OldState = %v, want Ready", e.OldState)
	}
	if e.NewState != state.StateBusy {
		t.Errorf("NewState = %v, want Busy", e.NewState)
	}
}

func TestErrorDetected_Fields(t *testing.T) {
	e := NewErrorDetected("s1", "r1", generation.ErrorEvent{
		Kind:      generation.KindInlinePanel,
		Message:   "Something went wrong.",
		Recovered: true,
	})

	if e.Kind != generation.KindInlinePanel {
		t.Errorf("Kind = %v, want inline_panel", e.Kind)
	}
	if e.Message != "Something went wrong." {
		t.Errorf("Message = %q", e.Message)
	}
	if !e.Recovered {
		t.Error("Recovered = false, want true")
	}
}

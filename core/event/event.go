// Package event defines all events that can be published by the application.
// Events represent state changes and are consumed by the coordinator, metrics and logs.
package event

import "flowpilot-go/core/state"

// Event is the base interface for all events.
// Events are published by the application layer and consumed by subscribers.
type Event interface {
	// EventName returns the name of the event for logging/debugging
	EventName() string
}

// SessionEvent is an event that originates from a specific session.
type SessionEvent interface {
	Event
	// SessionID returns the source session ID
	SessionID() string
}

// RequestEvent is an event produced while serving a specific request.
type RequestEvent interface {
	SessionEvent
	// RequestID returns the request being served
	RequestID() string
}

// baseSessionEvent provides common implementation for session events.
type baseSessionEvent struct {
	sessionID string
}

func (e *baseSessionEvent) SessionID() string {
	return e.sessionID
}

// baseRequestEvent provides common implementation for request events.
type baseRequestEvent struct {
	baseSessionEvent
	requestID string
}

func (e *baseRequestEvent) RequestID() string {
	return e.requestID
}

func newBaseRequestEvent(sessionID, requestID string) baseRequestEvent {
	return baseRequestEvent{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		requestID:        requestID,
	}
}

// SessionStarted is published when the browser is up and the target page is loaded.
type SessionStarted struct {
	baseSessionEvent
	URL string
}

func NewSessionStarted(sessionID, url string) *SessionStarted {
	return &SessionStarted{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		URL:              url,
	}
}

func (e *SessionStarted) EventName() string {
	return "SessionStarted"
}

// SessionStopped is published when a session stops.
type SessionStopped struct {
	baseSessionEvent
	Error error // nil if stopped normally
}

func NewSessionStopped(sessionID string, err error) *SessionStopped {
	return &SessionStopped{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Error:            err,
	}
}

func (e *SessionStopped) EventName() string {
	return "SessionStopped"
}

// SessionStateChanged is published when a session's state changes.
type SessionStateChanged struct {
	baseSessionEvent
	OldState state.SessionState
	NewState state.SessionState
}

func NewSessionStateChanged(sessionID string, oldState, newState state.SessionState) *SessionStateChanged {
	return &SessionStateChanged{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		OldState:         oldState,
		NewState:         newState,
	}
}

func (e *SessionStateChanged) EventName() string {
	return "SessionStateChanged"
}

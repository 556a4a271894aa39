package event

import "flowpilot-go/domain/generation"

// NavigationMethod names how the target page was reached.
type NavigationMethod string

const (
	NavigationKeyboard NavigationMethod = "keyboard"
	NavigationDirect   NavigationMethod = "direct"
)

// NavigationCompleted is published once the target page is loaded.
type NavigationCompleted struct {
	baseSessionEvent
	URL    string
	Method NavigationMethod
}

func NewNavigationCompleted(sessionID, url string, method NavigationMethod) *NavigationCompleted {
	return &NavigationCompleted{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		URL:              url,
		Method:           method,
	}
}

func (e *NavigationCompleted) EventName() string {
	return "NavigationCompleted"
}

// NavigationFailed is published when a navigation attempt fails.
// Failed attempts with a remaining fallback are reported too.
type NavigationFailed struct {
	baseSessionEvent
	Stage string
	Error error
}

func NewNavigationFailed(sessionID, stage string, err error) *NavigationFailed {
	return &NavigationFailed{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Stage:            stage,
		Error:            err,
	}
}

func (e *NavigationFailed) EventName() string {
	return "NavigationFailed"
}

// PageReloaded is published after the session refreshes the page.
type PageReloaded struct {
	baseSessionEvent
	Reason string
}

func NewPageReloaded(sessionID, reason string) *PageReloaded {
	return &PageReloaded{
		baseSessionEvent: baseSessionEvent{sessionID: sessionID},
		Reason:           reason,
	}
}

func (e *PageReloaded) EventName() string {
	return "PageReloaded"
}

// ErrorDetected is published whenever the website reports an error,
// whether or not the session recovered from it.
type ErrorDetected struct {
	baseRequestEvent
	Kind      generation.ErrorKind
	Message   string
	Recovered bool
}

func NewErrorDetected(sessionID, requestID string, ev generation.ErrorEvent) *ErrorDetected {
	return &ErrorDetected{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Kind:             ev.Kind,
		Message:          ev.Message,
		Recovered:        ev.Recovered,
	}
}

func (e *ErrorDetected) EventName() string {
	return "ErrorDetected"
}

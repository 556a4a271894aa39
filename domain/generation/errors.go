package generation

import (
	"errors"
	"fmt"
)

// Fatal outcomes with no recovery attempt.
var (
	ErrAccessDenied      = errors.New("access denied by target site")
	ErrGenerationTimeout = errors.New("generation timed out: no new images matched the prompt")
	ErrImageNotFound     = errors.New("image not found")
	ErrControlNotFound   = errors.New("control not found")
	ErrDownloadTimeout   = errors.New("download timed out")
)

// WebsiteRejectedError is a failure the site reported itself. The form has been
// reset before it is returned, so the next request starts clean.
type WebsiteRejectedError struct {
	Kind    ErrorKind
	Message string
}

func (e *WebsiteRejectedError) Error() string {
	return fmt.Sprintf("website rejected request: %s", e.Message)
}

// NewWebsiteRejected builds a rejection from a detected page event.
func NewWebsiteRejected(ev *ErrorEvent) *WebsiteRejectedError {
	return &WebsiteRejectedError{Kind: ev.Kind, Message: ev.Message}
}

// AutomationFaultError is a selector, interaction or timeout failure on our side.
// The page is left as-is and may need a session restart.
type AutomationFaultError struct {
	Op  string
	Err error
}

func (e *AutomationFaultError) Error() string {
	return fmt.Sprintf("automation fault during %s: %v", e.Op, e.Err)
}

func (e *AutomationFaultError) Unwrap() error {
	return e.Err
}

// Fault wraps err as an AutomationFaultError for op.
func Fault(op string, err error) error {
	return &AutomationFaultError{Op: op, Err: err}
}

// IsRecoverable reports whether err is a site-reported rejection.
func IsRecoverable(err error) bool {
	var rejected *WebsiteRejectedError
	return errors.As(err, &rejected)
}

// RejectionMessage returns the site message carried by err, if any.
func RejectionMessage(err error) (string, bool) {
	var rejected *WebsiteRejectedError
	if errors.As(err, &rejected) {
		return rejected.Message, true
	}
	return "", false
}

// Classify maps err to a short label used in metrics and history records.
func Classify(err error) string {
	var rejected *WebsiteRejectedError
	var fault *AutomationFaultError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "website_rejected"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, ErrImageNotFound):
		return "image_not_found"
	case errors.Is(err, ErrControlNotFound):
		return "control_not_found"
	case errors.Is(err, ErrDownloadTimeout):
		return "download_timeout"
	case errors.As(err, &fault):
		return "automation_fault"
	default:
		return "error"
	}
}

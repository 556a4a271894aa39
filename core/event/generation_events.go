package event

import "time"

// GenerationStarted is published when a generate request takes the page.
type GenerationStarted struct {
	baseRequestEvent
	Prompt         string
	ReferenceCount int
}

func NewGenerationStarted(sessionID, requestID, prompt string, refs int) *GenerationStarted {
	return &GenerationStarted{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Prompt:           prompt,
		ReferenceCount:   refs,
	}
}

func (e *GenerationStarted) EventName() string {
	return "GenerationStarted"
}

// UploadCompleted is published after a reference image shows up in the composer.
type UploadCompleted struct {
	baseRequestEvent
	Path     string
	Attempts int
}

func NewUploadCompleted(sessionID, requestID, path string, attempts int) *UploadCompleted {
	return &UploadCompleted{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Path:             path,
		Attempts:         attempts,
	}
}

func (e *UploadCompleted) EventName() string {
	return "UploadCompleted"
}

// GenerationCompleted is published when images have been captured.
type GenerationCompleted struct {
	baseRequestEvent
	Identities []string
	Bytes      int
	Duration   time.Duration
}

func NewGenerationCompleted(sessionID, requestID string, identities []string, bytes int, d time.Duration) *GenerationCompleted {
	return &GenerationCompleted{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Identities:       identities,
		Bytes:            bytes,
		Duration:         d,
	}
}

func (e *GenerationCompleted) EventName() string {
	return "GenerationCompleted"
}

// GenerationFailed is published when a generate request ends in error.
type GenerationFailed struct {
	baseRequestEvent
	Error    error
	Duration time.Duration
}

func NewGenerationFailed(sessionID, requestID string, err error, d time.Duration) *GenerationFailed {
	return &GenerationFailed{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Error:            err,
		Duration:         d,
	}
}

func (e *GenerationFailed) EventName() string {
	return "GenerationFailed"
}

// UpscaleCompleted is published after an upscaled image was downloaded.
type UpscaleCompleted struct {
	baseRequestEvent
	Index    int
	Scale    string
	Bytes    int
	Duration time.Duration
}

func NewUpscaleCompleted(sessionID, requestID string, index int, scale string, bytes int, d time.Duration) *UpscaleCompleted {
	return &UpscaleCompleted{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Index:            index,
		Scale:            scale,
		Bytes:            bytes,
		Duration:         d,
	}
}

func (e *UpscaleCompleted) EventName() string {
	return "UpscaleCompleted"
}

// UpscaleFailed is published when an upscale request ends in error.
type UpscaleFailed struct {
	baseRequestEvent
	Error    error
	Duration time.Duration
}

func NewUpscaleFailed(sessionID, requestID string, err error, d time.Duration) *UpscaleFailed {
	return &UpscaleFailed{
		baseRequestEvent: newBaseRequestEvent(sessionID, requestID),
		Error:            err,
		Duration:         d,
	}
}

func (e *UpscaleFailed) EventName() string {
	return "UpscaleFailed"
}

package generation

import (
	"context"
	"time"
)

// Operation names a recorded engine operation.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpUpscale  Operation = "upscale"
)

// Record is a history entry for one generate or upscale call.
type Record struct {
	ID             string
	Operation      Operation
	Prompt         string
	ReferenceCount int
	Index          int
	Scale          Scale
	Identities     []string
	ResultCount    int
	ResultBytes    int
	Outcome        string
	ErrorMessage   string
	StartedAt      time.Time
	Duration       time.Duration
}

// Succeeded reports whether the operation returned a result.
func (r *Record) Succeeded() bool {
	return r.Outcome == "ok"
}

// Finish fills the outcome fields from err and the elapsed time since StartedAt.
func (r *Record) Finish(err error, now time.Time) {
	r.Outcome = Classify(err)
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	r.Duration = now.Sub(r.StartedAt)
}

// Repository persists operation history.
type Repository interface {
	// Insert stores a new record.
	Insert(ctx context.Context, rec *Record) error

	// FindRecent returns up to limit records, newest first.
	FindRecent(ctx context.Context, limit int) ([]*Record, error)

	// FindByPrompt returns records for an exact prompt, newest first.
	FindByPrompt(ctx context.Context, prompt string, limit int) ([]*Record, error)
}

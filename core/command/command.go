// Package command defines the requests a browser session can execute.
// Commands are sent by the coordinator and processed one at a time by the session actor.
package command

import (
	"context"

	"github.com/google/uuid"
)

// Command is the base interface for all commands.
type Command interface {
	// CommandName returns the name of the command for logging/debugging
	CommandName() string
}

// Request is a command issued on behalf of a caller.
// The caller's context travels with the command so the session can skip work
// nobody is waiting for any more.
type Request interface {
	Command
	// RequestID uniquely identifies this request in logs, events and history.
	RequestID() string
	// Context returns the caller's context.
	Context() context.Context
}

// baseRequest provides common implementation for requests.
type baseRequest struct {
	id  string
	ctx context.Context
}

func newBaseRequest(ctx context.Context) baseRequest {
	if ctx == nil {
		ctx = context.Background()
	}
	return baseRequest{id: uuid.NewString(), ctx: ctx}
}

func (r *baseRequest) RequestID() string {
	return r.id
}

func (r *baseRequest) Context() context.Context {
	return r.ctx
}

// Abandoned reports whether the caller has already given up.
func Abandoned(r Request) bool {
	return r.Context().Err() != nil
}

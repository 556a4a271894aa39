package command

import (
	"context"

	"flowpilot-go/domain/generation"
)

// GenerateReply carries the outcome of a Generate command.
type GenerateReply struct {
	Result *generation.Result
	Err    error
}

// Generate fills the composer, submits it and captures the new images.
type Generate struct {
	baseRequest
	Request generation.Request
	Reply   chan GenerateReply
}

// NewGenerate creates a Generate command with a buffered reply channel.
func NewGenerate(ctx context.Context, req generation.Request) *Generate {
	return &Generate{
		baseRequest: newBaseRequest(ctx),
		Request:     req,
		Reply:       make(chan GenerateReply, 1),
	}
}

func (c *Generate) CommandName() string {
	return "Generate"
}

// UpscaleReply carries the outcome of an Upscale command.
type UpscaleReply struct {
	Image []byte
	Err   error
}

// Upscale downloads one rendered image at a higher resolution.
type Upscale struct {
	baseRequest
	Request generation.UpscaleRequest
	Reply   chan UpscaleReply
}

// NewUpscale creates an Upscale command with a buffered reply channel.
func NewUpscale(ctx context.Context, req generation.UpscaleRequest) *Upscale {
	return &Upscale{
		baseRequest: newBaseRequest(ctx),
		Request:     req,
		Reply:       make(chan UpscaleReply, 1),
	}
}

func (c *Upscale) CommandName() string {
	return "Upscale"
}

// ReloadPage refreshes the current page.
type ReloadPage struct {
	baseRequest
	Reason string
	Reply  chan error
}

func NewReloadPage(ctx context.Context, reason string) *ReloadPage {
	return &ReloadPage{
		baseRequest: newBaseRequest(ctx),
		Reason:      reason,
		Reply:       make(chan error, 1),
	}
}

func (c *ReloadPage) CommandName() string {
	return "ReloadPage"
}

// AccessReply reports whether the page is usable.
type AccessReply struct {
	URL string
	Err error
}

// CheckAccess inspects the page for an access-denied response.
type CheckAccess struct {
	baseRequest
	Reply chan AccessReply
}

func NewCheckAccess(ctx context.Context) *CheckAccess {
	return &CheckAccess{
		baseRequest: newBaseRequest(ctx),
		Reply:       make(chan AccessReply, 1),
	}
}

func (c *CheckAccess) CommandName() string {
	return "CheckAccess"
}

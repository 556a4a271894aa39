// Package application provides the application layer for orchestrating the session.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowpilot-go/application/session"
	"flowpilot-go/core/command"
	"flowpilot-go/core/event"
	"flowpilot-go/core/eventbus"
	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/config"
	"flowpilot-go/infrastructure/logging"
	"flowpilot-go/infrastructure/repository"
)

var (
	// ErrNoSession is returned when no browser session has been started.
	ErrNoSession = errors.New("no active session")

	// ErrSessionRunning is returned by StartSession while a session is active.
	ErrSessionRunning = errors.New("session already running")

	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

const historyWriteTimeout = 5 * time.Second

// Coordinator is the caller facade of the engine. It owns the single browser
// session and turns calls into commands for it.
type Coordinator struct {
	// Session
	sess   *session.Session
	sessMu sync.RWMutex

	// Dependencies
	eventBus      eventbus.EventBus
	locators      *locator.Registry
	automation    config.AutomationConfig
	target        config.TargetConfig
	driverFactory DriverFactory
	history       generation.Repository
	logger        *slog.Logger

	subscription string
}

// DriverFactory creates browser drivers.
type DriverFactory func() browser.Driver

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	EventBus      eventbus.EventBus
	Locators      *locator.Registry
	Automation    config.AutomationConfig
	Target        config.TargetConfig
	DriverFactory DriverFactory
	// History stores operation records. An in-memory store is used when nil.
	History generation.Repository
	Logger  *slog.Logger
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.History == nil {
		cfg.History = repository.NewMemoryHistoryRepository(0)
	}

	c := &Coordinator{
		eventBus:      cfg.EventBus,
		locators:      cfg.Locators,
		automation:    cfg.Automation,
		target:        cfg.Target,
		driverFactory: cfg.DriverFactory,
		history:       cfg.History,
		logger:        cfg.Logger,
	}

	// Subscribe to events if event bus is available
	if c.eventBus != nil {
		c.subscription = c.eventBus.Subscribe(c.handleEvent)
	}

	return c
}

// StartSession launches the browser and opens the target page.
func (c *Coordinator) StartSession(ctx context.Context) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if c.sess != nil && !c.sess.State().IsTerminal() {
		return ErrSessionRunning
	}

	// Create browser driver
	var driver browser.Driver
	if c.driverFactory != nil {
		driver = c.driverFactory()
	} else {
		driver = browser.NewChromeDPDriver(nil)
	}

	sessionID := uuid.NewString()
	sess := session.New(&session.Config{
		ID:         sessionID,
		Driver:     driver,
		EventBus:   c.eventBus,
		Locators:   c.locators,
		Automation: c.automation,
		Target:     c.target,
		Logger:     c.logger,
	})
	sess.Start()

	if err := sess.Open(ctx); err != nil {
		sess.Stop()
		return fmt.Errorf("failed to open session: %w", err)
	}

	c.sess = sess
	c.logger.Info("Session created", "session_id", sessionID)
	return nil
}

// StopSession closes the browser. Queued requests fail with session.ErrSessionStopped.
func (c *Coordinator) StopSession() {
	c.sessMu.Lock()
	sess := c.sess
	c.sess = nil
	c.sessMu.Unlock()

	if sess == nil {
		return
	}
	sess.Stop()
	c.logger.Info("Session stopped", "session_id", sess.ID())
}

// Stop shuts down the coordinator and its session.
func (c *Coordinator) Stop() {
	if c.eventBus != nil && c.subscription != "" {
		c.eventBus.Unsubscribe(c.subscription)
	}
	c.StopSession()
	c.logger.Info("Coordinator stopped")
}

// Session returns the current session, or nil.
func (c *Coordinator) Session() *session.Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.sess
}

// State returns the current session state. Without a session it is Idle.
func (c *Coordinator) State() state.SessionState {
	sess := c.Session()
	if sess == nil {
		return state.StateIdle
	}
	return sess.State()
}

// Generate submits prompt with optional reference image paths and returns the
// new image buffers.
func (c *Coordinator) Generate(ctx context.Context, prompt string, referenceImages []string) ([][]byte, error) {
	res, err := c.GenerateRequest(ctx, generation.Request{
		Prompt:          prompt,
		ReferenceImages: referenceImages,
	})
	if err != nil {
		return nil, err
	}
	return res.Images, nil
}

// GenerateRequest is Generate with full control over the request.
// Once the request is accepted, req.Release is called by whoever finishes
// with it, which may be after ctx is done and this call has returned.
func (c *Coordinator) GenerateRequest(ctx context.Context, req generation.Request) (*generation.Result, error) {
	if err := req.Validate(); err != nil {
		req.ReleaseReferences()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rec := &generation.Record{
		Operation:      generation.OpGenerate,
		Prompt:         req.Prompt,
		ReferenceCount: len(req.ReferenceImages),
		StartedAt:      time.Now(),
	}

	cmd := command.NewGenerate(ctx, req)
	rec.ID = cmd.RequestID()
	logger := logging.From(ctx).With("request_id", cmd.RequestID())
	logger.Info("Generate requested", "prompt", req.Prompt, "references", len(req.ReferenceImages))

	var reply command.GenerateReply
	err := enqueue(c.Session(), cmd)
	if err != nil {
		cmd.Request.ReleaseReferences()
	} else {
		reply, err = await(ctx, cmd.Reply)
	}
	if err == nil {
		err = reply.Err
	}
	if err == nil {
		rec.Identities = reply.Result.Identities
		rec.ResultCount = len(reply.Result.Images)
		rec.ResultBytes = reply.Result.TotalBytes()
	}
	c.record(rec, err)

	if err != nil {
		logger.Warn("Generate failed", "error", err, "outcome", rec.Outcome)
		return nil, err
	}
	return reply.Result, nil
}

// Upscale downloads image index (0-based, among the images matching prompt) at
// scale "1K", "2K" or "4K".
func (c *Coordinator) Upscale(ctx context.Context, prompt string, index int, scale string) ([]byte, error) {
	sc, err := generation.ParseScale(scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req := generation.UpscaleRequest{Prompt: prompt, Index: index, Scale: sc}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rec := &generation.Record{
		Operation: generation.OpUpscale,
		Prompt:    prompt,
		Index:     index,
		Scale:     sc,
		StartedAt: time.Now(),
	}

	cmd := command.NewUpscale(ctx, req)
	rec.ID = cmd.RequestID()
	logger := logging.From(ctx).With("request_id", cmd.RequestID())
	logger.Info("Upscale requested", "prompt", prompt, "index", index, "scale", sc)

	reply, err := send(ctx, c.Session(), cmd, cmd.Reply)
	if err == nil {
		err = reply.Err
	}
	if err == nil {
		rec.ResultCount = 1
		rec.ResultBytes = len(reply.Image)
	}
	c.record(rec, err)

	if err != nil {
		logger.Warn("Upscale failed", "error", err, "outcome", rec.Outcome)
		return nil, err
	}
	return reply.Image, nil
}

// Reload refreshes the page.
func (c *Coordinator) Reload(ctx context.Context, reason string) error {
	cmd := command.NewReloadPage(ctx, reason)
	err, sendErr := send(ctx, c.Session(), cmd, cmd.Reply)
	if sendErr != nil {
		return sendErr
	}
	return err
}

// CheckAccess reports the current page URL and whether the site denied access.
func (c *Coordinator) CheckAccess(ctx context.Context) (string, error) {
	cmd := command.NewCheckAccess(ctx)
	reply, err := send(ctx, c.Session(), cmd, cmd.Reply)
	if err != nil {
		return "", err
	}
	return reply.URL, reply.Err
}

// History returns up to limit recent operation records, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]*generation.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.history.FindRecent(ctx, limit)
}

// send queues cmd on sess and waits for its reply or for ctx.
// A caller that stops waiting leaves the command to be skipped or finished.
func send[T any](ctx context.Context, sess *session.Session, cmd command.Command, reply <-chan T) (T, error) {
	if err := enqueue(sess, cmd); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, reply)
}

func enqueue(sess *session.Session, cmd command.Command) error {
	if sess == nil {
		return ErrNoSession
	}
	return sess.Send(cmd)
}

func await[T any](ctx context.Context, reply <-chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// record stores rec after a finished call. Storage failures are logged only.
func (c *Coordinator) record(rec *generation.Record, err error) {
	rec.Finish(err, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if herr := c.history.Insert(ctx, rec); herr != nil {
		c.logger.Warn("Failed to record history", "request_id", rec.ID, "error", herr)
	}
}

// handleEvent handles events from the event bus.
func (c *Coordinator) handleEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.SessionStopped:
		c.sessMu.Lock()
		if c.sess != nil && c.sess.ID() == evt.SessionID() {
			c.sess = nil
			c.logger.Info("Session removed from coordinator", "session_id", evt.SessionID())
		}
		c.sessMu.Unlock()
	case *event.ErrorDetected:
		c.logger.Info("Site error observed", "request_id", evt.RequestID(), "kind", evt.Kind, "message", evt.Message, "recovered", evt.Recovered)
	}
}

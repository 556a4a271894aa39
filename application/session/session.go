// Package session implements the Session Actor that owns the browser page.
//
// The page is a single shared mutable resource. One goroutine processes
// commands from a queue strictly one at a time, so generate and upscale
// requests from concurrent callers never interleave on the page.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"flowpilot-go/core/command"
	"flowpilot-go/core/event"
	"flowpilot-go/core/eventbus"
	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/config"
	"flowpilot-go/infrastructure/metrics"
)

var (
	// ErrSessionStopped is returned for commands sent to or queued in a stopped session.
	ErrSessionStopped = errors.New("session is stopped")

	// ErrQueueFull is returned when the command queue has no room.
	ErrQueueFull = errors.New("command queue full")

	// ErrNotReady is returned for page requests while the session is starting or busy.
	ErrNotReady = errors.New("session is not ready")
)

const stopTimeout = 5 * time.Second

// Session represents the browser session as an Actor.
type Session struct {
	// Identity
	id string

	// State
	state   state.SessionState
	stateMu sync.RWMutex

	// requestID is the request being served. Only the actor goroutine touches it.
	requestID string

	// Components
	browserCtrl *BrowserController
	navigator   *Navigator
	monitor     *ErrorMonitor
	form        *FormDriver
	poller      *ResultPoller
	capture     *ImageCapture
	upscaler    *UpscaleDriver
	access      *AccessChecker

	// Dependencies
	driver   browser.Driver
	eventBus eventbus.EventBus
	cfg      config.AutomationConfig
	logger   *slog.Logger

	// Command processing. queueMu orders enqueues against the final drain,
	// so no command is left in the queue unanswered.
	cmdChan     chan command.Command
	queueMu     sync.Mutex
	queueClosed bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	loopStarted atomic.Bool
	stopOnce    sync.Once
}

// Config holds configuration for creating a new Session.
type Config struct {
	ID            string
	Driver        browser.Driver
	EventBus      eventbus.EventBus
	Locators      *locator.Registry
	Automation    config.AutomationConfig
	Target        config.TargetConfig
	Logger        *slog.Logger
	CommandBuffer int
}

// New creates a new Session actor.
func New(cfg *Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = cfg.Automation.QueueSize
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := cfg.Automation

	s := &Session{
		id:       cfg.ID,
		state:    state.StateIdle,
		driver:   cfg.Driver,
		eventBus: cfg.EventBus,
		cfg:      a,
		logger:   cfg.Logger.With("session_id", cfg.ID),
		cmdChan:  make(chan command.Command, cfg.CommandBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}

	// Initialize components
	s.browserCtrl = NewBrowserController(s.driver, cfg.Locators, a.PollInterval, s.logger)
	s.navigator = NewNavigator(s.driver, NavigatorConfig{
		TargetURL:          cfg.Target.URL,
		WarmupURL:          cfg.Target.WarmupURL,
		StartupPause:       a.StartupPause,
		StepPause:          a.StepPause,
		WarmupTimeout:      a.WarmupTimeout,
		KeyboardNavTimeout: a.KeyboardNavTimeout,
		NavigationTimeout:  a.NavigationTimeout,
		MinKeyDelay:        a.MinKeyDelay,
		MaxKeyDelay:        a.MaxKeyDelay,
		PollInterval:       a.PollInterval,
	}, s.onNavigationFailed, s.logger)
	s.monitor = NewErrorMonitor(s.browserCtrl, ErrorMonitorConfig{
		TransientPhrases:  a.TransientPhrases,
		InlineFailureText: a.InlineFailureText,
		UnknownErrorText:  a.UnknownErrorText,
	}, s.reload, s.onErrorDetected, s.logger)
	s.form = NewFormDriver(s.browserCtrl, s.driver, s.monitor, FormConfig{
		ControlWait:    a.ControlWait,
		CropWait:       a.CropWait,
		CreateWait:     a.CreateWait,
		UploadAttempts: a.UploadAttempts,
		UploadInterval: a.UploadInterval,
		StepPause:      a.StepPause,
		ClearPause:     a.ClearPause,
	}, s.onUploadCompleted, s.logger)
	s.poller = NewResultPoller(s.browserCtrl, s.monitor, s.form, s.reload, PollerConfig{
		Interval:     a.PollInterval,
		AcceptCount:  a.AcceptCount,
		Settle:       a.ResultSettle,
		ReloadSettle: a.ReloadSettle,
	}, s.logger)
	s.capture = NewImageCapture(s.driver, s.browserCtrl, a.CaptureWait, s.logger)
	s.upscaler = NewUpscaleDriver(s.browserCtrl, s.driver, s.poller, s.monitor, UpscaleConfig{
		MenuWait:        a.MenuWait,
		DownloadTimeout: a.DownloadTimeout,
	}, s.logger)
	s.access = NewAccessChecker(s.driver, a.AccessDeniedMarkers, s.logger)

	return s
}

// Start begins the session's command processing loop.
func (s *Session) Start() {
	if s.loopStarted.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Session started")
}

// Open launches the browser and navigates to the target page. Navigation
// failures are logged and do not fail Open; the session becomes Ready as soon
// as the browser is up. A second Open is refused by the state machine.
func (s *Session) Open(ctx context.Context) error {
	if err := s.transitionTo(state.StateStarting); err != nil {
		return err
	}

	// Stop must interrupt startup even when the caller's context is unbounded.
	openCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := s.driver.Start(openCtx); err != nil {
		s.logger.Error("Failed to start browser", "error", err)
		_ = s.transitionTo(state.StateStopped)
		s.publishEvent(event.NewSessionStopped(s.id, err))
		return fmt.Errorf("failed to start browser: %w", err)
	}

	if err := s.transitionTo(state.StateNavigating); err != nil {
		return err
	}

	method, err := s.navigator.Open(openCtx)
	if err != nil {
		s.logger.Error("Navigation failed, page may need a manual reload", "error", err)
	}

	url, _ := s.driver.Location(openCtx)
	if err == nil {
		s.publishEvent(event.NewNavigationCompleted(s.id, url, method))
	}

	if err := s.transitionTo(state.StateReady); err != nil {
		return err
	}
	s.publishEvent(event.NewSessionStarted(s.id, url))
	return nil
}

// Stop signals the session to stop and waits for cleanup with timeout.
// Queued commands are answered with ErrSessionStopped.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		if !s.loopStarted.Load() {
			s.cleanup()
			return
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("Session stopped")
		case <-time.After(stopTimeout):
			s.logger.Warn("Session stop timeout")
		}
	})
}

// Send sends a command to the session for processing.
// It never blocks: a full queue is reported as ErrQueueFull.
func (s *Session) Send(cmd command.Command) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.queueClosed || s.ctx.Err() != nil {
		return ErrSessionStopped
	}
	select {
	case s.cmdChan <- cmd:
		return nil
	default:
		metrics.QueueRejections.Inc()
		return ErrQueueFull
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() state.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// QueueLength returns the number of commands waiting to be processed.
func (s *Session) QueueLength() int {
	return len(s.cmdChan)
}

// Done is closed when the session has been asked to stop.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// run is the main command processing loop.
func (s *Session) run() {
	defer s.wg.Done()
	defer s.cleanup()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmdChan:
			s.processCommand(cmd)
		}
	}
}

// cleanup performs cleanup when the session stops.
func (s *Session) cleanup() {
	s.drain()

	cur := s.State()
	if cur.IsTerminal() {
		return
	}
	if cur != state.StateIdle {
		_ = s.transitionTo(state.StateStopping)
	}

	if s.driver != nil && s.driver.IsRunning() {
		if err := s.driver.Stop(); err != nil {
			s.logger.Error("Failed to stop browser", "error", err)
		}
	}

	_ = s.transitionTo(state.StateStopped)
	s.publishEvent(event.NewSessionStopped(s.id, nil))
}

// drain closes the queue to new commands and answers every queued one
// with ErrSessionStopped.
func (s *Session) drain() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	s.queueClosed = true
	for {
		select {
		case cmd := <-s.cmdChan:
			reject(cmd, ErrSessionStopped)
		default:
			return
		}
	}
}

// reject answers cmd with err without running it.
func reject(cmd command.Command, err error) {
	switch c := cmd.(type) {
	case *command.Generate:
		c.Request.ReleaseReferences()
		c.Reply <- command.GenerateReply{Err: err}
	case *command.Upscale:
		c.Reply <- command.UpscaleReply{Err: err}
	case *command.ReloadPage:
		c.Reply <- err
	case *command.CheckAccess:
		c.Reply <- command.AccessReply{Err: err}
	}
}

// processCommand handles a single command.
func (s *Session) processCommand(cmd command.Command) {
	s.logger.Debug("Processing command", "command", cmd.CommandName())

	// A caller that already gave up gets nothing done on its behalf.
	if req, ok := cmd.(command.Request); ok && command.Abandoned(req) {
		s.logger.Info("Skipping abandoned request", "command", cmd.CommandName(), "request_id", req.RequestID())
		reject(cmd, req.Context().Err())
		return
	}

	switch c := cmd.(type) {
	case *command.Generate:
		s.handleGenerate(c)
	case *command.Upscale:
		s.handleUpscale(c)
	case *command.ReloadPage:
		s.handleReloadPage(c)
	case *command.CheckAccess:
		s.handleCheckAccess(c)
	default:
		s.logger.Warn("Unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

// State transition helpers

func (s *Session) transitionTo(newState state.SessionState) error {
	s.stateMu.Lock()
	oldState := s.state

	if !oldState.CanTransitionTo(newState) {
		s.stateMu.Unlock()
		return state.NewTransitionError(oldState, newState, "invalid transition")
	}

	s.state = newState
	s.stateMu.Unlock()

	metrics.SetSessionState(state.Names(), newState.String())
	s.publishEvent(event.NewSessionStateChanged(s.id, oldState, newState))
	s.logger.Info("State changed", "from", oldState, "to", newState)

	return nil
}

// begin claims the page for one request.
func (s *Session) begin(requestID string) error {
	if cur := s.State(); !cur.CanServe() {
		return fmt.Errorf("%w (state %s)", ErrNotReady, cur)
	}
	if err := s.transitionTo(state.StateBusy); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	s.requestID = requestID
	return nil
}

// end releases the page. A session that is shutting down stays where it is.
func (s *Session) end() {
	s.requestID = ""
	if s.State() == state.StateBusy {
		_ = s.transitionTo(state.StateReady)
	}
}

func (s *Session) publishEvent(e event.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(e)
	}
}

// Component callbacks

func (s *Session) onErrorDetected(ev generation.ErrorEvent) {
	s.publishEvent(event.NewErrorDetected(s.id, s.requestID, ev))
}

func (s *Session) onUploadCompleted(path string, attempts int) {
	s.publishEvent(event.NewUploadCompleted(s.id, s.requestID, path, attempts))
}

func (s *Session) onNavigationFailed(stage string, err error) {
	s.publishEvent(event.NewNavigationFailed(s.id, stage, err))
}

// reload refreshes the page and lets the UI settle. A load that does not
// finish within NavigationTimeout fails the reload.
func (s *Session) reload(ctx context.Context, reason string) error {
	s.logger.Info("Refreshing page", "reason", reason)
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout+s.cfg.ReloadSettle)
		defer cancel()
	}
	if err := s.browserCtrl.Refresh(ctx, s.cfg.ReloadSettle); err != nil {
		return fmt.Errorf("reload (%s): %w", reason, err)
	}
	metrics.PageReloads.WithLabelValues(reason).Inc()
	s.publishEvent(event.NewPageReloaded(s.id, reason))
	s.logger.Info("Page refreshed successfully")
	return nil
}

// Command handlers

func (s *Session) handleGenerate(cmd *command.Generate) {
	defer cmd.Request.ReleaseReferences()

	if err := s.begin(cmd.RequestID()); err != nil {
		cmd.Reply <- command.GenerateReply{Err: err}
		return
	}
	defer s.end()

	req := cmd.Request
	logger := s.logger.With("request_id", cmd.RequestID())
	logger.Info("Generating", "prompt", req.Prompt, "references", len(req.ReferenceImages))
	s.publishEvent(event.NewGenerationStarted(s.id, cmd.RequestID(), req.Prompt, len(req.ReferenceImages)))

	start := time.Now()
	res, err := s.generate(s.ctx, &req)
	elapsed := time.Since(start)

	metrics.Operations.WithLabelValues(string(generation.OpGenerate), generation.Classify(err)).Inc()
	metrics.OperationDuration.WithLabelValues(string(generation.OpGenerate)).Observe(elapsed.Seconds())

	if err != nil {
		logger.Error("Generation failed", "error", err, "duration", elapsed)
		s.publishEvent(event.NewGenerationFailed(s.id, cmd.RequestID(), err, elapsed))
		cmd.Reply <- command.GenerateReply{Err: err}
		return
	}

	logger.Info("Generation completed", "images", len(res.Images), "bytes", res.TotalBytes(), "duration", elapsed)
	s.publishEvent(event.NewGenerationCompleted(s.id, cmd.RequestID(), res.Identities, res.TotalBytes(), elapsed))
	cmd.Reply <- command.GenerateReply{Result: res}
}

func (s *Session) generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	if err := s.access.Check(ctx); err != nil {
		return nil, err
	}

	baseline, err := s.poller.Baseline(ctx, req.Prompt)
	if err != nil {
		return nil, generation.Fault("baseline", err)
	}

	if err := s.form.Fill(ctx, req); err != nil {
		return nil, err
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = s.cfg.GenerationTimeout()
	}
	matches, err := s.poller.Await(ctx, req.Prompt, baseline, timeout)
	if err != nil {
		return nil, err
	}

	res := s.capture.CaptureAll(ctx, matches)
	if len(res.Images) == 0 {
		return nil, generation.Fault("capture", fmt.Errorf("none of %d new images could be captured", len(matches)))
	}
	return res, nil
}

func (s *Session) handleUpscale(cmd *command.Upscale) {
	if err := s.begin(cmd.RequestID()); err != nil {
		cmd.Reply <- command.UpscaleReply{Err: err}
		return
	}
	defer s.end()

	req := cmd.Request
	logger := s.logger.With("request_id", cmd.RequestID())

	start := time.Now()
	data, err := s.upscaler.Upscale(s.ctx, &req)
	elapsed := time.Since(start)

	metrics.Operations.WithLabelValues(string(generation.OpUpscale), generation.Classify(err)).Inc()
	metrics.OperationDuration.WithLabelValues(string(generation.OpUpscale)).Observe(elapsed.Seconds())

	if err != nil {
		logger.Error("Upscale failed", "error", err, "duration", elapsed)
		s.publishEvent(event.NewUpscaleFailed(s.id, cmd.RequestID(), err, elapsed))
		cmd.Reply <- command.UpscaleReply{Err: err}
		return
	}

	s.publishEvent(event.NewUpscaleCompleted(s.id, cmd.RequestID(), req.Index, string(req.Scale), len(data), elapsed))
	cmd.Reply <- command.UpscaleReply{Image: data}
}

func (s *Session) handleReloadPage(cmd *command.ReloadPage) {
	if err := s.begin(cmd.RequestID()); err != nil {
		cmd.Reply <- err
		return
	}
	defer s.end()

	cmd.Reply <- s.reload(s.ctx, cmd.Reason)
}

func (s *Session) handleCheckAccess(cmd *command.CheckAccess) {
	if err := s.begin(cmd.RequestID()); err != nil {
		cmd.Reply <- command.AccessReply{Err: err}
		return
	}
	defer s.end()

	url, err := s.driver.Location(s.ctx)
	if err != nil {
		cmd.Reply <- command.AccessReply{Err: generation.Fault("location", err)}
		return
	}
	cmd.Reply <- command.AccessReply{URL: url, Err: s.access.Check(s.ctx)}
}

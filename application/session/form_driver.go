package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/metrics"
)

// FormConfig holds the waits of the composer workflow.
type FormConfig struct {
	ControlWait    time.Duration
	CropWait       time.Duration
	CreateWait     time.Duration
	UploadAttempts int
	UploadInterval time.Duration
	StepPause      time.Duration
	ClearPause     time.Duration
}

// FormDriver fills the composer and submits it.
type FormDriver struct {
	ctrl     *BrowserController
	driver   browser.Driver
	monitor  *ErrorMonitor
	cfg      FormConfig
	onUpload func(path string, attempts int)
	logger   *slog.Logger
}

// NewFormDriver creates a form driver. onUpload is called for every confirmed
// upload and may be nil.
func NewFormDriver(ctrl *BrowserController, driver browser.Driver, monitor *ErrorMonitor, cfg FormConfig, onUpload func(string, int), logger *slog.Logger) *FormDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormDriver{
		ctrl:     ctrl,
		driver:   driver,
		monitor:  monitor,
		cfg:      cfg,
		onUpload: onUpload,
		logger:   logger,
	}
}

// Fill runs the composer sequence for req: mode, prompt, uploads, submit.
// A notification during an upload resets the form and aborts with
// *generation.WebsiteRejectedError. Other upload failures are logged and skipped.
func (f *FormDriver) Fill(ctx context.Context, req *generation.Request) error {
	f.ensureImageMode(ctx)

	if err := f.fillPrompt(ctx, req.Prompt); err != nil {
		return generation.Fault("fill_prompt", err)
	}

	for i, path := range req.ReferenceImages {
		f.logger.Info("Uploading reference image", "index", i, "path", path)
		err := f.upload(ctx, path)
		var rejected *generation.WebsiteRejectedError
		switch {
		case err == nil:
		case errors.As(err, &rejected):
			metrics.Uploads.WithLabelValues("rejected").Inc()
			return err
		case ctx.Err() != nil:
			return generation.Fault("upload", ctx.Err())
		default:
			metrics.Uploads.WithLabelValues("failed").Inc()
			f.logger.Error("Reference image upload failed", "index", i, "path", path, "error", err)
		}
	}

	if err := f.submit(ctx); err != nil {
		return generation.Fault("submit", err)
	}
	return nil
}

// ensureImageMode selects the Images generation mode. It is best-effort.
func (f *FormDriver) ensureImageMode(ctx context.Context) {
	toggle, err := f.ctrl.First(ctx, locator.TargetModeToggle, nil)
	if err != nil {
		f.logger.Debug("Mode toggle not found", "error", err)
		return
	}
	if toggle.Attr("aria-checked") == "true" {
		return
	}
	f.logger.Info("Switching to Images mode")
	if err := f.driver.Click(ctx, toggle.Ref); err != nil {
		f.logger.Warn("Failed to switch to Images mode", "error", err)
		return
	}
	_ = sleep(ctx, f.cfg.StepPause)
}

func (f *FormDriver) fillPrompt(ctx context.Context, prompt string) error {
	field, err := f.ctrl.WaitFor(ctx, locator.TargetPromptField, nil, f.cfg.ControlWait, nil)
	if err != nil {
		return fmt.Errorf("prompt field: %w", err)
	}
	return f.driver.Fill(ctx, field.Ref, prompt)
}

// upload adds one reference image and waits until the composer shows it.
// Running out of confirmation attempts is not an error.
func (f *FormDriver) upload(ctx context.Context, path string) error {
	add, err := f.ctrl.WaitFor(ctx, locator.TargetAddButton, nil, f.cfg.ControlWait, nil)
	if err != nil {
		return fmt.Errorf("add button: %w", err)
	}
	if err := f.driver.Click(ctx, add.Ref); err != nil {
		return fmt.Errorf("click add button: %w", err)
	}
	if err := sleep(ctx, f.cfg.StepPause); err != nil {
		return err
	}

	before := f.ctrl.Count(ctx, locator.TargetUploadedItem, nil)

	slot, err := f.ctrl.WaitFor(ctx, locator.TargetUploadButton, nil, f.cfg.ControlWait, nil)
	if err != nil {
		return fmt.Errorf("upload button: %w", err)
	}
	if err := f.driver.ClickAndChooseFile(ctx, slot.Ref, path); err != nil {
		return fmt.Errorf("choose file: %w", err)
	}

	crop, err := f.ctrl.WaitFor(ctx, locator.TargetCropConfirm, nil, f.cfg.CropWait, nil)
	if err != nil {
		f.logger.Info("Crop dialog did not appear", "error", err)
	} else if err := f.driver.Click(ctx, crop.Ref); err != nil {
		f.logger.Warn("Failed to confirm crop", "error", err)
	}

	for attempt := 1; attempt <= f.cfg.UploadAttempts; attempt++ {
		if ev, found := f.monitor.CheckNotification(ctx); found {
			f.logger.Warn("Site rejected upload", "message", ev.Message)
			f.Reset(ctx)
			return generation.NewWebsiteRejected(ev)
		}
		if n := f.ctrl.Count(ctx, locator.TargetUploadedItem, nil); n > before {
			f.logger.Info("Upload confirmed", "path", path, "attempts", attempt)
			metrics.Uploads.WithLabelValues("ok").Inc()
			if f.onUpload != nil {
				f.onUpload(path, attempt)
			}
			return sleep(ctx, f.cfg.StepPause)
		}
		if err := sleep(ctx, f.cfg.UploadInterval); err != nil {
			return err
		}
	}

	f.logger.Warn("Upload count did not increase in time", "path", path, "attempts", f.cfg.UploadAttempts)
	metrics.Uploads.WithLabelValues("unconfirmed").Inc()
	return nil
}

func (f *FormDriver) submit(ctx context.Context) error {
	create, err := f.ctrl.WaitFor(ctx, locator.TargetCreateButton, nil, f.cfg.CreateWait, Clickable)
	if err != nil {
		return fmt.Errorf("create button: %w", err)
	}
	f.logger.Info("Submitting generation")
	return f.driver.Click(ctx, create.Ref)
}

// Reset clears the prompt field and removes every uploaded image so the next
// request starts from an empty composer. Failures are logged only.
func (f *FormDriver) Reset(ctx context.Context) {
	if field, err := f.ctrl.First(ctx, locator.TargetPromptField, nil); err == nil {
		if err := f.driver.Fill(ctx, field.Ref, ""); err != nil {
			f.logger.Warn("Failed to clear prompt", "error", err)
		} else {
			f.logger.Info("Cleared prompt")
		}
	}

	items, err := f.ctrl.Find(ctx, locator.TargetUploadedItem, nil)
	if err != nil {
		f.logger.Warn("Failed to list uploaded images", "error", err)
	}
	if len(items) > 0 {
		f.logger.Info("Removing uploaded images", "count", len(items))
	}
	// Reverse order keeps the remaining refs valid while items disappear.
	for i := len(items) - 1; i >= 0; i-- {
		if !items[i].Visible {
			continue
		}
		if err := f.driver.Click(ctx, items[i].Ref); err != nil {
			f.logger.Debug("Failed to remove uploaded image", "index", i, "error", err)
			continue
		}
		_ = sleep(ctx, f.cfg.ClearPause)
	}

	_ = sleep(ctx, f.cfg.StepPause)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
)

// UpscaleConfig holds the waits of the export workflow.
type UpscaleConfig struct {
	MenuWait        time.Duration
	DownloadTimeout time.Duration
}

// UpscaleDriver downloads a previously generated image at a higher resolution
// through the site's export menu.
type UpscaleDriver struct {
	ctrl    *BrowserController
	driver  browser.Driver
	poller  *ResultPoller
	monitor *ErrorMonitor
	cfg     UpscaleConfig
	logger  *slog.Logger
}

// NewUpscaleDriver creates an upscale driver.
func NewUpscaleDriver(ctrl *BrowserController, driver browser.Driver, poller *ResultPoller, monitor *ErrorMonitor, cfg UpscaleConfig, logger *slog.Logger) *UpscaleDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpscaleDriver{
		ctrl:    ctrl,
		driver:  driver,
		poller:  poller,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
	}
}

// downloadControlLevels are the ancestor levels searched for the Download
// control, nearest first.
var downloadControlLevels = []int{1, 2}

// Upscale downloads image req.Index of the current matches for req.Prompt.
func (u *UpscaleDriver) Upscale(ctx context.Context, req *generation.UpscaleRequest) ([]byte, error) {
	matches, err := u.poller.Matches(ctx, req.Prompt)
	if err != nil {
		return nil, generation.Fault("find_images", err)
	}
	if req.Index < 0 || req.Index >= len(matches) {
		return nil, fmt.Errorf("%w: index %d, %d images match the prompt", generation.ErrImageNotFound, req.Index, len(matches))
	}
	target := matches[req.Index]
	u.logger.Info("Upscaling image", "index", req.Index, "scale", req.Scale, "identity", target.Identity)

	if err := u.driver.ScrollIntoView(ctx, target.Ref); err != nil {
		return nil, generation.Fault("scroll_to_image", err)
	}

	control, err := u.findDownloadControl(ctx, target.Ref)
	if err != nil {
		return nil, err
	}
	if err := u.driver.Click(ctx, control.Ref); err != nil {
		return nil, generation.Fault("open_download_menu", err)
	}

	entry, err := u.ctrl.WaitFor(ctx, locator.TargetMenuEntry, locator.Vars{"scale": string(req.Scale)}, u.cfg.MenuWait, nil)
	if err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return nil, fmt.Errorf("%w: no %q menu entry", generation.ErrControlNotFound, req.Scale.MenuLabel())
		}
		return nil, generation.Fault("find_menu_entry", err)
	}

	if ev, found := u.monitor.CheckNotification(ctx); found {
		return nil, generation.NewWebsiteRejected(ev)
	}

	path, err := u.driver.ClickAndDownload(ctx, entry.Ref, u.cfg.DownloadTimeout)
	if err != nil {
		if ev, found := u.monitor.CheckNotification(ctx); found {
			return nil, generation.NewWebsiteRejected(ev)
		}
		if errors.Is(err, browser.ErrDownloadTimeout) {
			return nil, fmt.Errorf("%w after %s", generation.ErrDownloadTimeout, u.cfg.DownloadTimeout)
		}
		return nil, generation.Fault("download", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, generation.Fault("read_download", err)
	}
	if err := os.Remove(path); err != nil {
		u.logger.Warn("Failed to remove downloaded file", "path", path, "error", err)
	}

	u.logger.Info("Upscale downloaded", "bytes", len(data))
	return data, nil
}

func (u *UpscaleDriver) findDownloadControl(ctx context.Context, imageRef string) (browser.Element, error) {
	for _, levels := range downloadControlLevels {
		els, err := u.ctrl.FindWithin(ctx, imageRef, levels, locator.TargetDownloadControl, nil)
		if err != nil {
			if ctx.Err() != nil {
				return browser.Element{}, generation.Fault("find_download_control", err)
			}
			u.logger.Debug("Download control lookup failed", "levels", levels, "error", err)
			continue
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}
	return browser.Element{}, fmt.Errorf("%w: no download control near the image", generation.ErrControlNotFound)
}

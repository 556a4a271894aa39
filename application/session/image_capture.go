package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"flowpilot-go/domain/generation"
	"flowpilot-go/infrastructure/browser"
	"flowpilot-go/infrastructure/metrics"
)

// ImageCapture screenshots result elements.
type ImageCapture struct {
	driver browser.Driver
	ctrl   *BrowserController
	wait   time.Duration
	logger *slog.Logger
}

// NewImageCapture creates a new image capture service. wait bounds how long an
// element may take to become visible.
func NewImageCapture(driver browser.Driver, ctrl *BrowserController, wait time.Duration, logger *slog.Logger) *ImageCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageCapture{
		driver: driver,
		ctrl:   ctrl,
		wait:   wait,
		logger: logger,
	}
}

// Capture returns the PNG screenshot of one match.
func (c *ImageCapture) Capture(ctx context.Context, m generation.ImageMatch) ([]byte, error) {
	if !c.driver.IsRunning() {
		return nil, browser.ErrNotRunning
	}
	if err := c.ctrl.WaitVisible(ctx, m.Ref, c.wait); err != nil {
		return nil, fmt.Errorf("wait visible: %w", err)
	}
	if err := c.driver.ScrollIntoView(ctx, m.Ref); err != nil {
		return nil, fmt.Errorf("scroll into view: %w", err)
	}
	return c.driver.CaptureElement(ctx, m.Ref)
}

// CaptureAll captures every match in order. Matches that fail are logged and
// left out, so the result may be shorter than matches.
func (c *ImageCapture) CaptureAll(ctx context.Context, matches []generation.ImageMatch) *generation.Result {
	res := &generation.Result{}
	for i, m := range matches {
		data, err := c.Capture(ctx, m)
		if err != nil {
			c.logger.Error("Failed to capture image", "index", i, "identity", m.Identity, "error", err)
			continue
		}
		if len(data) == 0 {
			c.logger.Warn("Captured empty image", "index", i, "identity", m.Identity)
			continue
		}
		res.Images = append(res.Images, data)
		res.Identities = append(res.Identities, m.Identity)
		metrics.ImagesCaptured.Inc()
		c.logger.Debug("Captured image", "index", i, "bytes", len(data))
	}
	return res
}

// SaveImages writes images as numbered PNG files into dir and returns the paths.
func SaveImages(dir, prefix string, images [][]byte) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		name := filepath.Join(dir, fmt.Sprintf("%s_%d.png", prefix, i))
		if err := os.WriteFile(name, img, 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", name, err)
		}
		paths = append(paths, name)
	}
	return paths, nil
}

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
)

// ErrElementNotFound is returned when no candidate of a strategy matched in time.
var ErrElementNotFound = errors.New("element not found")

// BrowserController resolves locator strategies against the live page.
// Candidates are tried in order; the first one with matches wins.
type BrowserController struct {
	driver   browser.Driver
	registry *locator.Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewBrowserController creates a new browser controller.
// interval is the polling period of the Wait helpers.
func NewBrowserController(driver browser.Driver, registry *locator.Registry, interval time.Duration, logger *slog.Logger) *BrowserController {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &BrowserController{
		driver:   driver,
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Find returns the matches of the first candidate that matches anything.
// A candidate whose query fails is skipped; the error is returned only when no
// candidate matched.
func (c *BrowserController) Find(ctx context.Context, target locator.Target, vars locator.Vars) ([]browser.Element, error) {
	return c.find(ctx, target, vars, func(q locator.Query) ([]browser.Element, error) {
		return c.driver.Query(ctx, q)
	})
}

// FindWithin is Find scoped to the element levels ancestors above scopeRef.
func (c *BrowserController) FindWithin(ctx context.Context, scopeRef string, levels int, target locator.Target, vars locator.Vars) ([]browser.Element, error) {
	return c.find(ctx, target, vars, func(q locator.Query) ([]browser.Element, error) {
		return c.driver.QueryWithin(ctx, scopeRef, levels, q)
	})
}

func (c *BrowserController) find(ctx context.Context, target locator.Target, vars locator.Vars, run func(locator.Query) ([]browser.Element, error)) ([]browser.Element, error) {
	if !c.driver.IsRunning() {
		return nil, browser.ErrNotRunning
	}
	queries, err := c.registry.Queries(target, vars)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, q := range queries {
		els, err := run(q)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, browser.ErrNotRunning) {
				return nil, err
			}
			c.logger.Debug("Locator candidate failed", "target", target, "candidate", i, "error", err)
			lastErr = err
			continue
		}
		if len(els) > 0 {
			if i > 0 {
				c.logger.Debug("Locator fallback used", "target", target, "candidate", i)
			}
			return els, nil
		}
	}
	return nil, lastErr
}

// First returns the first match of target, or ErrElementNotFound.
func (c *BrowserController) First(ctx context.Context, target locator.Target, vars locator.Vars) (browser.Element, error) {
	els, err := c.Find(ctx, target, vars)
	if err != nil {
		return browser.Element{}, err
	}
	if len(els) == 0 {
		return browser.Element{}, ErrElementNotFound
	}
	return els[0], nil
}

// Count returns the number of matches of target. Query errors count as zero.
func (c *BrowserController) Count(ctx context.Context, target locator.Target, vars locator.Vars) int {
	els, err := c.Find(ctx, target, vars)
	if err != nil {
		c.logger.Debug("Count failed", "target", target, "error", err)
		return 0
	}
	return len(els)
}

// WaitFor polls until an element of target satisfies ready, or timeout elapses.
// A nil ready accepts any visible element.
func (c *BrowserController) WaitFor(ctx context.Context, target locator.Target, vars locator.Vars, timeout time.Duration, ready func(browser.Element) bool) (browser.Element, error) {
	if ready == nil {
		ready = Visible
	}
	deadline := time.Now().Add(timeout)
	for {
		els, err := c.Find(ctx, target, vars)
		if err != nil && (ctx.Err() != nil || errors.Is(err, browser.ErrNotRunning)) {
			return browser.Element{}, err
		}
		for _, el := range els {
			if ready(el) {
				return el, nil
			}
		}
		if !time.Now().Before(deadline) {
			return browser.Element{}, ErrElementNotFound
		}
		if err := sleep(ctx, c.interval); err != nil {
			return browser.Element{}, err
		}
	}
}

// WaitVisible polls Inspect until ref is visible.
func (c *BrowserController) WaitVisible(ctx context.Context, ref string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		el, err := c.driver.Inspect(ctx, ref)
		if err != nil {
			return err
		}
		if el.Visible {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrElementNotFound
		}
		if err := sleep(ctx, c.interval); err != nil {
			return err
		}
	}
}

// Refresh reloads the page and waits settle for the UI to come back.
func (c *BrowserController) Refresh(ctx context.Context, settle time.Duration) error {
	if !c.driver.IsRunning() {
		return browser.ErrNotRunning
	}
	if err := c.driver.Reload(ctx); err != nil {
		return err
	}
	return sleep(ctx, settle)
}

// IsRunning returns true if the browser is active.
func (c *BrowserController) IsRunning() bool {
	return c.driver.IsRunning()
}

// Visible accepts visible elements.
func Visible(el browser.Element) bool {
	return el.Visible
}

// Clickable accepts visible, enabled elements.
func Clickable(el browser.Element) bool {
	return el.Visible && el.Enabled
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

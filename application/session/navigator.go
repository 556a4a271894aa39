package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"flowpilot-go/core/event"
	"flowpilot-go/infrastructure/browser"
)

// NavigatorConfig describes how the target page is reached.
type NavigatorConfig struct {
	TargetURL          string
	WarmupURL          string
	StartupPause       time.Duration
	StepPause          time.Duration
	WarmupTimeout      time.Duration
	KeyboardNavTimeout time.Duration
	NavigationTimeout  time.Duration
	MinKeyDelay        time.Duration
	MaxKeyDelay        time.Duration
	PollInterval       time.Duration
}

// Navigator reaches the target page the way a person would: a pause, a visit
// to a neutral site, then typing the address. A direct navigation with the
// neutral site as referrer is the fallback.
type Navigator struct {
	driver browser.Driver
	cfg    NavigatorConfig
	onFail func(stage string, err error)
	logger *slog.Logger
}

// NewNavigator creates a navigator. onFail is called for every failed stage
// and may be nil.
func NewNavigator(driver browser.Driver, cfg NavigatorConfig, onFail func(string, error), logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{
		driver: driver,
		cfg:    cfg,
		onFail: onFail,
		logger: logger,
	}
}

// jitter returns a duration in [base, 2*base).
func (n *Navigator) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + rand.N(base)
}

func (n *Navigator) keyDelay() time.Duration {
	lo, hi := n.cfg.MinKeyDelay, n.cfg.MaxKeyDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func (n *Navigator) fail(stage string, err error) {
	if n.onFail != nil {
		n.onFail(stage, err)
	}
}

// Open navigates to the target page. Only the final fallback failing is
// reported as an error; every earlier failure is logged and skipped.
func (n *Navigator) Open(ctx context.Context) (event.NavigationMethod, error) {
	if err := sleep(ctx, n.jitter(n.cfg.StartupPause)); err != nil {
		return "", err
	}

	n.logger.Info("Navigating to target", "url", n.cfg.TargetURL)

	if n.cfg.WarmupURL != "" {
		if err := n.warmup(ctx); err != nil {
			n.logger.Warn("Could not visit warm-up page first", "url", n.cfg.WarmupURL, "error", err)
			n.fail("warmup", err)
		} else {
			n.logger.Info("Arrived at warm-up page, continuing to target")
			if err := sleep(ctx, n.jitter(n.cfg.StepPause)); err != nil {
				return "", err
			}
		}
	}

	if err := n.typeAddress(ctx); err != nil {
		n.logger.Warn("Keyboard navigation failed, falling back to direct navigation", "error", err)
		n.fail("keyboard", err)
	} else {
		n.logger.Info("Navigation completed via keyboard")
		return event.NavigationKeyboard, nil
	}

	if err := n.direct(ctx); err != nil {
		n.logger.Error("Failed initial navigation", "error", err)
		n.fail("direct", err)
		return "", err
	}
	n.logger.Info("Navigation completed via direct navigation")
	return event.NavigationDirect, nil
}

func (n *Navigator) warmup(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, n.cfg.WarmupTimeout)
	defer cancel()
	return n.driver.Navigate(wctx, n.cfg.WarmupURL, "")
}

func (n *Navigator) direct(ctx context.Context) error {
	if n.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.NavigationTimeout)
		defer cancel()
	}
	return n.driver.Navigate(ctx, n.cfg.TargetURL, n.cfg.WarmupURL)
}

func (n *Navigator) typeAddress(ctx context.Context) error {
	kctx, cancel := context.WithTimeout(ctx, n.cfg.KeyboardNavTimeout)
	defer cancel()

	if err := n.driver.TypeURL(kctx, n.cfg.TargetURL, n.keyDelay); err != nil {
		return err
	}

	for {
		loc, err := n.driver.Location(kctx)
		if err == nil && SameDocument(loc, n.cfg.TargetURL) {
			return nil
		}
		if err := sleep(kctx, n.cfg.PollInterval); err != nil {
			return fmt.Errorf("page did not reach %s (at %q): %w", n.cfg.TargetURL, loc, err)
		}
	}
}

// SameDocument reports whether location points at target, ignoring a
// trailing slash, query and fragment.
func SameDocument(location, target string) bool {
	strip := func(u string) string {
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		return strings.TrimSuffix(u, "/")
	}
	return strip(location) != "" && strip(location) == strip(target)
}

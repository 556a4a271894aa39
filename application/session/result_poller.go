package session

import (
	"context"
	"log/slog"
	"time"

	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
)

// PollerConfig holds the result polling parameters.
type PollerConfig struct {
	Interval time.Duration
	// AcceptCount is how many fresh images end the wait early.
	AcceptCount int
	// Settle is waited after acceptance so the images finish rendering.
	Settle       time.Duration
	ReloadSettle time.Duration
}

// ResultPoller waits for the images a submission produces.
// An image is fresh when its identity was not on the page before submission.
type ResultPoller struct {
	ctrl    *BrowserController
	monitor *ErrorMonitor
	form    *FormDriver
	reload  ReloadFunc
	cfg     PollerConfig
	logger  *slog.Logger
}

// NewResultPoller creates a result poller.
func NewResultPoller(ctrl *BrowserController, monitor *ErrorMonitor, form *FormDriver, reload ReloadFunc, cfg PollerConfig, logger *slog.Logger) *ResultPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AcceptCount < 1 {
		cfg.AcceptCount = 1
	}
	return &ResultPoller{
		ctrl:    ctrl,
		monitor: monitor,
		form:    form,
		reload:  reload,
		cfg:     cfg,
		logger:  logger,
	}
}

// Matches returns the result images whose alt text contains prompt, in page
// order, one per identity.
func (p *ResultPoller) Matches(ctx context.Context, prompt string) ([]generation.ImageMatch, error) {
	els, err := p.ctrl.Find(ctx, locator.TargetResultImage, locator.Vars{"prompt": prompt})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(els))
	matches := make([]generation.ImageMatch, 0, len(els))
	for _, el := range els {
		src := el.Attr("src")
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		matches = append(matches, generation.ImageMatch{Ref: el.Ref, Identity: src, Alt: el.Attr("alt")})
	}
	return matches, nil
}

// Baseline records the identities already on the page for prompt.
// It must be taken before submitting.
func (p *ResultPoller) Baseline(ctx context.Context, prompt string) (map[string]struct{}, error) {
	matches, err := p.Matches(ctx, prompt)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Result baseline", "count", len(matches))
	return generation.IdentitySet(matches), nil
}

// Await polls until AcceptCount fresh images appear or timeout elapses.
// Site errors reset the form and end the wait with a rejection. On timeout the
// largest fresh set seen is returned; with none, ErrGenerationTimeout.
func (p *ResultPoller) Await(ctx context.Context, prompt string, baseline map[string]struct{}, timeout time.Duration) ([]generation.ImageMatch, error) {
	deadline := time.Now().Add(timeout)
	var best []generation.ImageMatch

	for time.Now().Before(deadline) {
		if ev, found := p.monitor.CheckNotification(ctx); found {
			p.logger.Warn("Generation rejected by notification", "message", ev.Message)
			p.form.Reset(ctx)
			return nil, generation.NewWebsiteRejected(ev)
		}

		if ev, found := p.monitor.CheckInlinePanel(ctx); found {
			p.logger.Warn("Generation failed in result area", "message", ev.Message)
			if p.reload != nil {
				if err := p.reload(ctx, "inline_failure"); err != nil {
					p.logger.Error("Failed to refresh page", "error", err)
				}
			}
			p.form.Reset(ctx)
			return nil, generation.NewWebsiteRejected(ev)
		}

		current, err := p.Matches(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, generation.Fault("await_results", ctx.Err())
			}
			p.logger.Debug("Result scan failed", "error", err)
		}
		fresh := generation.Fresh(current, baseline)

		if len(fresh) >= p.cfg.AcceptCount {
			p.logger.Info("Found new images", "count", len(fresh))
			if err := sleep(ctx, p.cfg.Settle); err != nil {
				return nil, generation.Fault("await_results", err)
			}
			return fresh, nil
		}
		if len(fresh) > len(best) {
			p.logger.Debug("Partial result", "count", len(fresh))
			best = fresh
		}

		if err := sleep(ctx, p.cfg.Interval); err != nil {
			return nil, generation.Fault("await_results", err)
		}
	}

	if len(best) > 0 {
		p.logger.Warn("Timed out waiting for all images, returning partial result", "count", len(best))
		return best, nil
	}
	return nil, generation.ErrGenerationTimeout
}

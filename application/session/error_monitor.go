package session

import (
	"context"
	"log/slog"
	"strings"

	"flowpilot-go/domain/generation"
	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/metrics"
)

// ReloadFunc refreshes the page for the given reason.
type ReloadFunc func(ctx context.Context, reason string) error

// ErrorMonitorConfig holds the phrases the monitor looks for.
type ErrorMonitorConfig struct {
	// TransientPhrases trigger a reload when found in a notification.
	TransientPhrases []string
	// InlineFailureText is the exact text of the inline failure panel.
	InlineFailureText string
	// UnknownErrorText replaces an empty notification message.
	UnknownErrorText string
}

// ErrorMonitor detects the two error signals the site emits: transient
// notifications and the inline failure panel in the result area.
// Inspection failures are never fatal; the element is skipped.
type ErrorMonitor struct {
	ctrl     *BrowserController
	cfg      ErrorMonitorConfig
	reload   ReloadFunc
	onDetect func(generation.ErrorEvent)
	logger   *slog.Logger
}

// NewErrorMonitor creates an error monitor. onDetect is called for every
// detected event and may be nil.
func NewErrorMonitor(ctrl *BrowserController, cfg ErrorMonitorConfig, reload ReloadFunc, onDetect func(generation.ErrorEvent), logger *slog.Logger) *ErrorMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnknownErrorText == "" {
		cfg.UnknownErrorText = "Unknown error from website"
	}
	return &ErrorMonitor{
		ctrl:     ctrl,
		cfg:      cfg,
		reload:   reload,
		onDetect: onDetect,
		logger:   logger,
	}
}

// CheckNotification looks for a visible error notification. Only notifications
// carrying the error icon count. When the message contains a transient phrase
// the page is reloaded before returning and the event is marked recovered.
func (m *ErrorMonitor) CheckNotification(ctx context.Context) (*generation.ErrorEvent, bool) {
	toasts, err := m.ctrl.Find(ctx, locator.TargetNotification, nil)
	if err != nil {
		m.logger.Debug("Notification scan failed", "error", err)
		return nil, false
	}

	for _, toast := range toasts {
		icons, err := m.ctrl.FindWithin(ctx, toast.Ref, 0, locator.TargetNotificationIcon, nil)
		if err != nil || len(icons) == 0 {
			continue
		}

		msg := m.notificationMessage(ctx, toast.Ref, toast.Text)
		m.logger.Info("Detected error notification", "message", msg)

		ev := &generation.ErrorEvent{Kind: generation.KindNotification, Message: msg}
		if m.isTransient(msg) {
			m.logger.Warn("Transient site error, reloading page", "message", msg)
			if m.reload != nil {
				if err := m.reload(ctx, "transient_notification"); err != nil {
					m.logger.Error("Failed to refresh page", "error", err)
				} else {
					ev.Recovered = true
				}
			}
		}
		m.report(*ev)
		return ev, true
	}
	return nil, false
}

// notificationMessage extracts the message with the fallback chain title,
// content, whole notification text.
func (m *ErrorMonitor) notificationMessage(ctx context.Context, ref, whole string) string {
	var msg string
	for _, target := range []locator.Target{locator.TargetNotificationTitle, locator.TargetNotificationContent} {
		els, err := m.ctrl.FindWithin(ctx, ref, 0, target, nil)
		if err == nil && len(els) > 0 && els[0].Text != "" {
			msg = els[0].Text
			break
		}
	}
	if msg == "" {
		msg = whole
	}
	return CleanMessage(msg, m.cfg.UnknownErrorText)
}

// CleanMessage trims msg and strips a leading error icon label.
// An empty result becomes fallback.
func CleanMessage(msg, fallback string) string {
	msg = strings.TrimSpace(msg)
	if strings.HasPrefix(msg, "error") {
		msg = strings.TrimSpace(msg[len("error"):])
	}
	if msg == "" {
		return fallback
	}
	return msg
}

func (m *ErrorMonitor) isTransient(msg string) bool {
	for _, phrase := range m.cfg.TransientPhrases {
		if phrase != "" && strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// CheckInlinePanel looks for the inline failure panel. It never recovers on
// its own; callers decide whether to reload.
func (m *ErrorMonitor) CheckInlinePanel(ctx context.Context) (*generation.ErrorEvent, bool) {
	if m.cfg.InlineFailureText == "" {
		return nil, false
	}
	els, err := m.ctrl.Find(ctx, locator.TargetInlineError, locator.Vars{"inline_failure": m.cfg.InlineFailureText})
	if err != nil {
		m.logger.Debug("Inline panel scan failed", "error", err)
		return nil, false
	}
	if len(els) == 0 {
		return nil, false
	}

	m.logger.Warn("Detected inline generation error", "message", m.cfg.InlineFailureText)
	ev := &generation.ErrorEvent{Kind: generation.KindInlinePanel, Message: m.cfg.InlineFailureText}
	m.report(*ev)
	return ev, true
}

func (m *ErrorMonitor) report(ev generation.ErrorEvent) {
	metrics.WebsiteErrors.WithLabelValues(ev.Kind.String()).Inc()
	if m.onDetect != nil {
		m.onDetect(ev)
	}
}

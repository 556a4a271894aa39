package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"flowpilot-go/domain/generation"
	"flowpilot-go/infrastructure/browser"
)

// AccessChecker detects when the site answers with an access-denied page
// instead of the application.
type AccessChecker struct {
	driver  browser.Driver
	markers []string
	logger  *slog.Logger
}

// NewAccessChecker creates an access checker for the given page markers.
func NewAccessChecker(driver browser.Driver, markers []string, logger *slog.Logger) *AccessChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessChecker{
		driver:  driver,
		markers: markers,
		logger:  logger,
	}
}

// Check returns generation.ErrAccessDenied when the page title or body text
// contains a marker.
func (a *AccessChecker) Check(ctx context.Context) error {
	content, err := a.driver.Content(ctx)
	if err != nil {
		return generation.Fault("read_page", err)
	}
	if marker, found := DeniedMarker(content, a.markers); found {
		a.logger.Error("Access denied by target site", "marker", marker)
		return fmt.Errorf("%w (%s)", generation.ErrAccessDenied, marker)
	}
	return nil
}

// DeniedMarker reports the first marker present in the visible text of page.
// Markup that fails to parse is searched as plain text.
func DeniedMarker(page string, markers []string) (string, bool) {
	text := page
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		text = doc.Find("title").Text() + "\n" + doc.Find("body").Text()
	}
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

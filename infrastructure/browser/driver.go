// Package browser provides browser automation infrastructure.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"flowpilot-go/domain/locator"
)

var (
	// ErrNotRunning is returned by every page operation before Start or after Stop.
	ErrNotRunning = errors.New("browser not running")

	// ErrStaleElement means a ref no longer resolves to an element, typically after a reload.
	ErrStaleElement = errors.New("element is no longer attached to the page")

	// ErrFileChooserTimeout means clicking the control did not open a file chooser.
	ErrFileChooserTimeout = errors.New("file chooser did not open")

	// ErrDownloadTimeout means no completed download arrived in time.
	ErrDownloadTimeout = errors.New("download did not complete in time")
)

// Driver defines the page operations the automation engine needs.
// Elements are located with locator queries and then addressed by the ref the
// driver assigns to each match.
type Driver interface {
	// Start launches the browser and prepares the page (stealth scripts, emulation,
	// file chooser interception, download handling).
	Start(ctx context.Context) error

	// Stop closes the browser and releases resources.
	Stop() error

	// IsRunning returns true if the browser is active.
	IsRunning() bool

	// Navigate loads url, sending referrer when non-empty.
	Navigate(ctx context.Context, url, referrer string) error

	// TypeURL focuses the address bar and types url key by key, then presses Enter.
	// keyDelay is called before every key.
	TypeURL(ctx context.Context, url string, keyDelay func() time.Duration) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Reload refreshes the current page and waits for it to load.
	Reload(ctx context.Context) error

	// Content returns the serialized HTML of the current page.
	Content(ctx context.Context) (string, error)

	// Query returns every element matching q, in document order.
	Query(ctx context.Context, q locator.Query) ([]Element, error)

	// QueryWithin runs q inside the element `levels` ancestors above scopeRef.
	// levels 0 searches the scope element itself.
	QueryWithin(ctx context.Context, scopeRef string, levels int, q locator.Query) ([]Element, error)

	// Inspect returns the current state of a previously matched element.
	Inspect(ctx context.Context, ref string) (Element, error)

	// Click clicks an element.
	Click(ctx context.Context, ref string) error

	// Fill replaces the value of a text field.
	Fill(ctx context.Context, ref, text string) error

	// ScrollIntoView scrolls an element into the viewport.
	ScrollIntoView(ctx context.Context, ref string) error

	// CaptureElement screenshots a single element as PNG.
	CaptureElement(ctx context.Context, ref string) ([]byte, error)

	// ClickAndChooseFile clicks an element that opens a native file chooser and
	// answers the chooser with path.
	ClickAndChooseFile(ctx context.Context, ref, path string) error

	// ClickAndDownload clicks an element and waits for the download it triggers.
	// It returns the path of the downloaded file.
	ClickAndDownload(ctx context.Context, ref string, timeout time.Duration) (string, error)
}

// Element is a snapshot of a matched DOM element.
type Element struct {
	Ref     string            `json:"ref"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
	Enabled bool              `json:"enabled"`
}

// Attr returns an attribute value or "".
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// RefAttribute is the attribute the driver stamps on matched elements.
const RefAttribute = "data-flowpilot-ref"

// RefSelector returns the CSS selector addressing ref.
func RefSelector(ref string) string {
	return fmt.Sprintf(`[%s=%q]`, RefAttribute, ref)
}

// Geolocation is an emulated device position.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// DriverConfig holds configuration for browser drivers.
type DriverConfig struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// UserDataDir is the persistent profile directory (cookies, local storage).
	UserDataDir string

	// DownloadDir receives files downloaded by ClickAndDownload.
	DownloadDir string

	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string

	// UserAgent overrides the browser user agent.
	UserAgent string

	WindowWidth    int
	WindowHeight   int
	ViewportWidth  int
	ViewportHeight int

	Locale   string
	Timezone string

	// Geolocation is granted to PermissionOrigin and reported to the page.
	Geolocation      Geolocation
	PermissionOrigin string

	// ActionTimeout bounds single element interactions.
	ActionTimeout time.Duration

	// NavigationTimeout bounds a navigation or reload waiting for the page load.
	NavigationTimeout time.Duration
}

// DefaultUserAgent returns a desktop Chrome user agent matching the host platform.
func DefaultUserAgent() string {
	if runtime.GOOS == "linux" {
		return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
}

// DefaultDriverConfig returns default browser configuration.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Headless:          false,
		UserDataDir:       "./user_data",
		DownloadDir:       filepath.Join(os.TempDir(), "flowpilot-downloads"),
		UserAgent:         DefaultUserAgent(),
		WindowWidth:       1280,
		WindowHeight:      800,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		Locale:            "en-US",
		Timezone:          "America/New_York",
		Geolocation:       Geolocation{Latitude: 40.7128, Longitude: -74.0060, Accuracy: 100},
		PermissionOrigin:  "https://labs.google",
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"golang.org/x/sync/errgroup"

	"flowpilot-go/domain/locator"
)

// ChromeDPDriver implements Driver using chromedp.
type ChromeDPDriver struct {
	config      *DriverConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	running     bool
}

// NewChromeDPDriver creates a new ChromeDP-based browser driver.
func NewChromeDPDriver(config *DriverConfig) *ChromeDPDriver {
	if config == nil {
		config = DefaultDriverConfig()
	}
	return &ChromeDPDriver{
		config: config,
	}
}

// Start launches Chrome and prepares the first tab.
func (d *ChromeDPDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("browser already running")
	}

	if d.config.UserDataDir != "" {
		if err := os.MkdirAll(d.config.UserDataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create profile directory: %w", err)
		}
	}
	if err := os.MkdirAll(d.config.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// Browser lifecycle is independent of the caller's context.
	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(
		context.Background(),
		stealthAllocatorOptions(d.config)...,
	)
	d.ctx, d.cancel = chromedp.NewContext(d.allocCtx)

	// The first Run allocates the browser and ties it to the given context, so it
	// must not carry a timeout.
	if err := chromedp.Run(d.ctx); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(setupCtx, d.setupActions()...); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to prepare browser: %w", err)
	}

	d.running = true
	return nil
}

func (d *ChromeDPDriver) setupActions() []chromedp.Action {
	cfg := d.config
	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return applyStealth(ctx, cfg)
		}),
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetLocaleOverride().WithLocale(cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("locale override: %w", err)
			}
			if err := emulation.SetTimezoneOverride(cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("timezone override: %w", err)
			}
			return emulation.SetGeolocationOverride().
				WithLatitude(cfg.Geolocation.Latitude).
				WithLongitude(cfg.Geolocation.Longitude).
				WithAccuracy(cfg.Geolocation.Accuracy).
				Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			bctx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser)
			grant := cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation})
			if cfg.PermissionOrigin != "" {
				grant = grant.WithOrigin(cfg.PermissionOrigin)
			}
			if err := grant.Do(bctx); err != nil {
				return fmt.Errorf("grant permissions: %w", err)
			}
			return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(cfg.DownloadDir).
				WithEventsEnabled(true).
				Do(bctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetInterceptFileChooserDialog(true).Do(ctx)
		}),
	}
}

// Stop closes the browser and releases resources.
func (d *ChromeDPDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	var err error
	if d.ctx != nil {
		err = chromedp.Cancel(d.ctx)
	}
	d.cleanup()
	return err
}

func (d *ChromeDPDriver) cleanup() {
	d.running = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
	d.allocCtx = nil
}

// IsRunning returns true if the browser is active.
func (d *ChromeDPDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// browserContext returns the tab context bound to ctx's deadline and cancellation.
func (d *ChromeDPDriver) browserContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	browserCtx := d.ctx
	running := d.running
	d.mu.Unlock()

	if !running || browserCtx == nil {
		return nil, nil, ErrNotRunning
	}

	var execCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		execCtx, cancel = context.WithDeadline(browserCtx, deadline)
	} else {
		execCtx, cancel = context.WithCancel(browserCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return execCtx, func() {
		stop()
		cancel()
	}, nil
}

// actionContext is browserContext with ActionTimeout applied.
func (d *ChromeDPDriver) actionContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	return d.boundedContext(ctx, d.config.ActionTimeout)
}

// navigationContext is browserContext with NavigationTimeout applied. Navigate
// and Reload wait for the load event, which a stalled page never fires.
func (d *ChromeDPDriver) navigationContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	return d.boundedContext(ctx, d.config.NavigationTimeout)
}

// boundedContext is browserContext with timeout applied. A timeout <= 0 adds no bound.
func (d *ChromeDPDriver) boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	execCtx, cancel, err := d.browserContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	timeoutCtx, timeoutCancel := withOptionalTimeout(execCtx, timeout)
	return timeoutCtx, func() {
		timeoutCancel()
		cancel()
	}, nil
}

// withOptionalTimeout is context.WithTimeout, except that timeout <= 0 means none.
func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Navigate navigates to url, optionally with a referrer.
func (d *ChromeDPDriver) Navigate(ctx context.Context, url, referrer string) error {
	execCtx, cancel, err := d.navigationContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if referrer == "" {
		return chromedp.Run(execCtx, chromedp.Navigate(url))
	}
	err = chromedp.Run(execCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Referer": referrer}),
		chromedp.Navigate(url),
	)
	// The header must not leak into later requests.
	if clearErr := chromedp.Run(execCtx, network.SetExtraHTTPHeaders(network.Headers{})); err == nil {
		err = clearErr
	}
	return err
}

// TypeURL brings the tab to front, presses Ctrl+L and types url followed by Enter.
func (d *ChromeDPDriver) TypeURL(ctx context.Context, url string, keyDelay func() time.Duration) error {
	execCtx, cancel, err := d.browserContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.BringToFront().Do(ctx)
		}),
		chromedp.KeyEvent("l", chromedp.KeyModifiers(input.ModifierCtrl)),
	}
	for _, r := range url {
		actions = append(actions, chromedp.Sleep(keyDelay()), chromedp.KeyEvent(string(r)))
	}
	actions = append(actions, chromedp.KeyEvent(kb.Enter))

	return chromedp.Run(execCtx, actions...)
}

// Location returns the current page URL.
func (d *ChromeDPDriver) Location(ctx context.Context) (string, error) {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	var loc string
	if err := chromedp.Run(execCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Reload refreshes the current page.
func (d *ChromeDPDriver) Reload(ctx context.Context) error {
	execCtx, cancel, err := d.navigationContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(execCtx, chromedp.Reload())
}

// Content returns the page HTML.
func (d *ChromeDPDriver) Content(ctx context.Context) (string, error) {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	var html string
	if err := chromedp.Run(execCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Query evaluates q against the whole document.
func (d *ChromeDPDriver) Query(ctx context.Context, q locator.Query) ([]Element, error) {
	return d.QueryWithin(ctx, "", 0, q)
}

// QueryWithin evaluates q inside an ancestor of scopeRef.
func (d *ChromeDPDriver) QueryWithin(ctx context.Context, scopeRef string, levels int, q locator.Query) ([]Element, error) {
	expr, err := queryExpression(q, scopeRef, levels)
	if err != nil {
		return nil, err
	}

	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var res queryResult
	if err := chromedp.Run(execCtx, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Target, err)
	}
	if res.Stale {
		return nil, ErrStaleElement
	}
	return res.Elements, nil
}

// Inspect returns the live state of ref.
func (d *ChromeDPDriver) Inspect(ctx context.Context, ref string) (Element, error) {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return Element{}, err
	}
	defer cancel()

	var res queryResult
	if err := chromedp.Run(execCtx, chromedp.Evaluate(inspectExpression(ref), &res)); err != nil {
		return Element{}, err
	}
	if res.Stale || len(res.Elements) == 0 {
		return Element{}, ErrStaleElement
	}
	return res.Elements[0], nil
}

// Click clicks the element addressed by ref.
func (d *ChromeDPDriver) Click(ctx context.Context, ref string) error {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(execCtx, chromedp.Click(RefSelector(ref), chromedp.ByQuery))
}

// Fill replaces a field's value.
func (d *ChromeDPDriver) Fill(ctx context.Context, ref, text string) error {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	var ok bool
	if err := chromedp.Run(execCtx, chromedp.Evaluate(fillExpression(ref, text), &ok)); err != nil {
		return err
	}
	if !ok {
		return ErrStaleElement
	}
	return nil
}

// ScrollIntoView scrolls ref into the viewport.
func (d *ChromeDPDriver) ScrollIntoView(ctx context.Context, ref string) error {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(execCtx, chromedp.ScrollIntoView(RefSelector(ref), chromedp.ByQuery))
}

// CaptureElement screenshots ref as PNG.
func (d *ChromeDPDriver) CaptureElement(ctx context.Context, ref string) ([]byte, error) {
	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var buf []byte
	if err := chromedp.Run(execCtx, chromedp.Screenshot(RefSelector(ref), &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to capture element: %w", err)
	}
	return buf, nil
}

// ClickAndChooseFile clicks ref and answers the intercepted file chooser with path.
func (d *ChromeDPDriver) ClickAndChooseFile(ctx context.Context, ref, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	execCtx, cancel, err := d.actionContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	chosen := make(chan cdp.BackendNodeID, 1)
	listenCtx, stopListening := context.WithCancel(execCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventFileChooserOpened); ok {
			select {
			case chosen <- e.BackendNodeID:
			default:
			}
		}
	})

	if err := chromedp.Run(execCtx, chromedp.Click(RefSelector(ref), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click upload control: %w", err)
	}

	var node cdp.BackendNodeID
	select {
	case node = <-chosen:
	case <-execCtx.Done():
		return ErrFileChooserTimeout
	}

	return chromedp.Run(execCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles([]string{abs}).WithBackendNodeID(node).Do(ctx)
	}))
}

// ClickAndDownload clicks ref while waiting for the download it starts.
func (d *ChromeDPDriver) ClickAndDownload(ctx context.Context, ref string, timeout time.Duration) (string, error) {
	execCtx, cancel, err := d.browserContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(execCtx, timeout)
	defer waitCancel()

	type progress struct {
		guid  string
		state cdpbrowser.DownloadProgressState
	}
	begun := make(chan string, 1)
	updates := make(chan progress, 16)

	listenCtx, stopListening := context.WithCancel(waitCtx)
	defer stopListening()
	chromedp.ListenBrowser(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			select {
			case begun <- e.GUID:
			default:
			}
		case *cdpbrowser.EventDownloadProgress:
			if e.State == cdpbrowser.DownloadProgressStateInProgress {
				return
			}
			select {
			case updates <- progress{guid: e.GUID, state: e.State}:
			default:
			}
		}
	})

	var path string
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		clickCtx, clickCancel := withOptionalTimeout(gctx, d.config.ActionTimeout)
		defer clickCancel()
		return chromedp.Run(clickCtx, chromedp.Click(RefSelector(ref), chromedp.ByQuery))
	})
	g.Go(func() error {
		var guid string
		select {
		case guid = <-begun:
		case <-gctx.Done():
			return gctx.Err()
		}
		for {
			select {
			case u := <-updates:
				if u.guid != guid {
					continue
				}
				if u.state == cdpbrowser.DownloadProgressStateCanceled {
					return fmt.Errorf("download %s was canceled", guid)
				}
				path = filepath.Join(d.config.DownloadDir, guid)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", ErrDownloadTimeout
		}
		return "", err
	}
	return path, nil
}

// Ensure ChromeDPDriver implements Driver
var _ Driver = (*ChromeDPDriver)(nil)

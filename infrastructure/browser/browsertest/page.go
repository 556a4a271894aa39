// Package browsertest provides an in-memory browser.Driver that simulates the
// Flow page, for engine tests and for running the service without Chrome.
//
// The page is a goquery document. Queries go through locator.Match, so the
// strategies exercised here are the ones the real page sees. Clicks mutate the
// document the way the site reacts: uploads add thumbnails, Create renders
// result tiles, Download opens the export menu.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"flowpilot-go/domain/locator"
	"flowpilot-go/infrastructure/browser"
)

// Layout is the initial markup of the simulated page.
const Layout = `<!DOCTYPE html>
<html>
<head><title>Flow</title></head>
<body>
<main>
  <div role="radiogroup">
    <button role="radio" aria-checked="true">Videos</button>
    <button role="radio" aria-checked="false">Images</button>
  </div>
  <section id="results"></section>
  <section id="inline"></section>
  <div id="menu"></div>
  <div id="dialogs"></div>
  <form class="composer">
    <div data-index="0"><button type="button" class="upload"><i>upload</i> Upload</button></div>
    <div id="uploads"></div>
    <button type="button" class="add"><i>add</i></button>
    <textarea id="PINHOLE_TEXT_AREA_ELEMENT_ID"></textarea>
    <button type="button" class="create"><i>arrow_forward</i> Create</button>
  </form>
  <ol id="toasts"></ol>
</main>
</body>
</html>`

// Page is a simulated Flow page. The zero value is not usable; call NewPage.
type Page struct {
	mu          sync.Mutex
	doc         *goquery.Document
	seq         int
	images      int
	running     bool
	location    string
	denied      bool
	downloadDir string

	submits     []string
	fills       []string
	uploads     []string
	navigations []string
	reloads     int

	inflight atomic.Int32
	overlaps atomic.Int32

	// OnSubmit runs after Create is clicked with the prompt field text.
	// The default renders two result tiles for the prompt.
	OnSubmit func(p *Page, prompt string)

	// OnUpload runs after a file is handed to the chooser.
	// The default opens the crop dialog.
	OnUpload func(p *Page, path string)

	// OnCrop runs after "Crop and Save" is clicked.
	// The default adds a thumbnail to the composer.
	OnCrop func(p *Page)

	// Download produces the bytes of an export menu entry.
	Download func(p *Page, entry string) ([]byte, error)

	// StartErr, NavigateErr and TypeURLErr make the matching operation fail.
	StartErr    error
	NavigateErr error
	TypeURLErr  error

	// StallLoads makes Navigate and Reload wait for ctx, like a page whose
	// load event never fires.
	StallLoads bool

	// CaptureErr fails screenshots of images whose src is a key.
	CaptureErr map[string]error
}

// NewPage creates a simulated page. Downloads are written to downloadDir,
// which defaults to the system temp directory.
func NewPage(downloadDir string) *Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(Layout))
	if err != nil {
		panic(fmt.Sprintf("browsertest: invalid layout: %v", err))
	}
	if downloadDir == "" {
		downloadDir = os.TempDir()
	}
	return &Page{
		doc:         doc,
		location:    "about:blank",
		downloadDir: downloadDir,
		OnSubmit: func(p *Page, prompt string) {
			p.RenderResults(prompt, 2)
		},
		OnUpload: func(p *Page, _ string) {
			p.ShowCropDialog()
		},
		OnCrop: func(p *Page) {
			p.AddThumbnail()
		},
		Download: func(_ *Page, entry string) ([]byte, error) {
			return []byte("PNG " + entry), nil
		},
		CaptureErr: make(map[string]error),
	}
}

// enter guards every driver call and counts calls that overlap another one.
func (p *Page) enter(ctx context.Context) (func(), error) {
	if p.inflight.Add(1) > 1 {
		p.overlaps.Add(1)
	}
	done := func() { p.inflight.Add(-1) }
	if err := ctx.Err(); err != nil {
		done()
		return nil, err
	}
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		done()
		return nil, browser.ErrNotRunning
	}
	return done, nil
}

// Start implements browser.Driver.
func (p *Page) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.StartErr != nil {
		return p.StartErr
	}
	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return err
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop implements browser.Driver.
func (p *Page) Stop() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning implements browser.Driver.
func (p *Page) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Navigate implements browser.Driver.
func (p *Page) Navigate(ctx context.Context, url, referrer string) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if p.StallLoads {
		p.mu.Lock()
		p.navigations = append(p.navigations, url)
		p.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.location = url
	return nil
}

// TypeURL implements browser.Driver.
func (p *Page) TypeURL(ctx context.Context, url string, keyDelay func() time.Duration) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	for range url {
		if keyDelay != nil {
			keyDelay()
		}
	}
	if p.TypeURLErr != nil {
		return p.TypeURLErr
	}
	p.mu.Lock()
	p.location = url
	p.mu.Unlock()
	return nil
}

// Location implements browser.Driver.
func (p *Page) Location(ctx context.Context) (string, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

// Reload implements browser.Driver. Toasts and inline errors do not survive a reload.
func (p *Page) Reload(ctx context.Context) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if p.StallLoads {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	p.doc.Find("#toasts").Empty()
	p.doc.Find("#inline").Empty()
	p.doc.Find("#menu").Empty()
	return nil
}

// Content implements browser.Driver.
func (p *Page) Content(ctx context.Context) (string, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return "<html><head><title>403 Forbidden</title></head><body><h1>403 Forbidden</h1></body></html>", nil
	}
	return p.doc.Html()
}

// Query implements browser.Driver.
func (p *Page) Query(ctx context.Context, q locator.Query) ([]browser.Element, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements(locator.Match(p.doc.Selection, q)), nil
}

// QueryWithin implements browser.Driver.
func (p *Page) QueryWithin(ctx context.Context, scopeRef string, levels int, q locator.Query) ([]browser.Element, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	scope := p.byRef(scopeRef)
	if scope.Length() == 0 {
		return nil, browser.ErrStaleElement
	}
	for i := 0; i < levels && scope.Parent().Length() > 0; i++ {
		scope = scope.Parent()
	}
	return p.elements(locator.Match(scope, q)), nil
}

// Inspect implements browser.Driver.
func (p *Page) Inspect(ctx context.Context, ref string) (browser.Element, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return browser.Element{}, err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		return browser.Element{}, browser.ErrStaleElement
	}
	return p.element(sel), nil
}

// Click implements browser.Driver.
func (p *Page) Click(ctx context.Context, ref string) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	p.mu.Lock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		p.mu.Unlock()
		return browser.ErrStaleElement
	}
	action := p.react(sel)
	p.mu.Unlock()

	if action != nil {
		action()
	}
	return nil
}

// react applies the page's response to a click. Hook calls are returned so they
// run without the lock held.
func (p *Page) react(sel *goquery.Selection) func() {
	switch {
	case sel.Is(`[role="radio"]`):
		sel.Siblings().SetAttr("aria-checked", "false")
		sel.SetAttr("aria-checked", "true")
	case sel.Is(`#dialogs button`):
		sel.Closest(`[role="dialog"]`).Remove()
		if p.OnCrop != nil {
			return func() { p.OnCrop(p) }
		}
	case sel.Is(`#uploads button`):
		sel.Closest(".thumb").Remove()
	case sel.Is(`button.create`):
		prompt := p.doc.Find("#PINHOLE_TEXT_AREA_ELEMENT_ID").Text()
		p.submits = append(p.submits, prompt)
		if p.OnSubmit != nil {
			return func() { p.OnSubmit(p, prompt) }
		}
	case sel.Is(`.tile button`):
		p.doc.Find("#menu").SetHtml(`<div role="menu">` +
			`<div role="menuitem"><span>Download 1K</span></div>` +
			`<div role="menuitem"><span>Download 2K</span></div>` +
			`<div role="menuitem"><span>Download 4K</span></div>` +
			`</div>`)
	}
	return nil
}

// Fill implements browser.Driver.
func (p *Page) Fill(ctx context.Context, ref, text string) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		return browser.ErrStaleElement
	}
	sel.SetText(text)
	p.fills = append(p.fills, text)
	return nil
}

// ScrollIntoView implements browser.Driver.
func (p *Page) ScrollIntoView(ctx context.Context, ref string) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byRef(ref).Length() == 0 {
		return browser.ErrStaleElement
	}
	return nil
}

// CaptureElement implements browser.Driver. The "PNG" is the element's src.
func (p *Page) CaptureElement(ctx context.Context, ref string) ([]byte, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		return nil, browser.ErrStaleElement
	}
	src := sel.AttrOr("src", "")
	if err := p.CaptureErr[src]; err != nil {
		return nil, err
	}
	return []byte("\x89PNG " + src), nil
}

// ClickAndChooseFile implements browser.Driver.
func (p *Page) ClickAndChooseFile(ctx context.Context, ref, path string) error {
	done, err := p.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	p.mu.Lock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		p.mu.Unlock()
		return browser.ErrStaleElement
	}
	if !sel.Is("button.upload") {
		p.mu.Unlock()
		return browser.ErrFileChooserTimeout
	}
	p.uploads = append(p.uploads, path)
	p.mu.Unlock()

	if p.OnUpload != nil {
		p.OnUpload(p, path)
	}
	return nil
}

// ClickAndDownload implements browser.Driver.
func (p *Page) ClickAndDownload(ctx context.Context, ref string, timeout time.Duration) (string, error) {
	done, err := p.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	p.mu.Lock()
	sel := p.byRef(ref)
	if sel.Length() == 0 {
		p.mu.Unlock()
		return "", browser.ErrStaleElement
	}
	entry := locator.NormalizeText(sel.Text())
	p.doc.Find("#menu").Empty()
	p.mu.Unlock()

	if p.Download == nil {
		return "", browser.ErrDownloadTimeout
	}
	data, err := p.Download(p, entry)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(p.downloadDir, "download-*.png")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (p *Page) byRef(ref string) *goquery.Selection {
	return p.doc.Find(browser.RefSelector(ref))
}

func (p *Page) elements(sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, p.element(s))
	})
	return out
}

func (p *Page) element(sel *goquery.Selection) browser.Element {
	ref, ok := sel.Attr(browser.RefAttribute)
	if !ok {
		p.seq++
		ref = strconv.Itoa(p.seq)
		sel.SetAttr(browser.RefAttribute, ref)
	}
	attrs := make(map[string]string)
	for _, a := range sel.Nodes[0].Attr {
		attrs[a.Key] = a.Val
	}
	_, disabled := sel.Attr("disabled")
	return browser.Element{
		Ref:     ref,
		Text:    locator.NormalizeText(sel.Text()),
		Attrs:   attrs,
		Visible: locator.Visible(sel),
		Enabled: !disabled && sel.AttrOr("aria-disabled", "") != "true",
	}
}

var _ browser.Driver = (*Page)(nil)

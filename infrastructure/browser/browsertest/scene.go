package browsertest

import (
	"fmt"
	"html"
)

// RenderResults adds n result tiles for prompt and returns their image sources.
func (p *Page) RenderResults(prompt string, n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	srcs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p.images++
		src := fmt.Sprintf("https://flow.test/image/%d.png", p.images)
		srcs = append(srcs, src)
		p.doc.Find("#results").PrependHtml(fmt.Sprintf(
			`<div class="tile"><div class="frame"><img alt="Flow Image: %s" src="%s"></div>`+
				`<div class="actions"><button type="button"><i>download</i> Download</button></div></div>`,
			html.EscapeString(prompt), src))
	}
	return srcs
}

// ShowToast displays a notification. Error toasts carry the error icon.
func (p *Page) ShowToast(title string, isError bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	icon := "info"
	if isError {
		icon = "error"
	}
	p.doc.Find("#toasts").AppendHtml(fmt.Sprintf(
		`<li data-sonner-toast data-visible="true"><i>%s</i><div data-title>%s</div></li>`,
		icon, html.EscapeString(title)))
}

// ShowInlineError displays a failure panel in the result area.
func (p *Page) ShowInlineError(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find("#inline").AppendHtml(fmt.Sprintf(`<div class="panel"><div>%s</div></div>`, html.EscapeString(text)))
}

// ShowCropDialog opens the crop dialog shown after choosing a file.
func (p *Page) ShowCropDialog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find("#dialogs").AppendHtml(`<div role="dialog"><button type="button">Crop and Save</button></div>`)
}

// AddThumbnail adds a removable uploaded image to the composer.
func (p *Page) AddThumbnail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find("#uploads").AppendHtml(`<div class="thumb"><img src="blob:upload"><button type="button"><i>close</i></button></div>`)
}

// SetAccessDenied makes the page content a 403 response.
func (p *Page) SetAccessDenied(denied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = denied
}

// Prompt returns the prompt field text.
func (p *Page) Prompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find("#PINHOLE_TEXT_AREA_ELEMENT_ID").Text()
}

// UploadedCount returns the number of thumbnails in the composer.
func (p *Page) UploadedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find("#uploads .thumb").Length()
}

// ImagesMode reports whether the Images radio is checked.
func (p *Page) ImagesMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(`[role="radio"]`).Last().AttrOr("aria-checked", "") == "true"
}

// ToastCount returns the number of notifications on screen.
func (p *Page) ToastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find("#toasts li").Length()
}

// Submits returns the prompt text of every Create click, in order.
func (p *Page) Submits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submits...)
}

// Fills returns every text written to a field, in order.
func (p *Page) Fills() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fills...)
}

// Uploads returns every path handed to the file chooser, in order.
func (p *Page) Uploads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.uploads...)
}

// Navigations returns every URL passed to Navigate, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Reloads returns how often the page was reloaded.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Overlaps returns how many driver calls started while another was in progress.
func (p *Page) Overlaps() int {
	return int(p.overlaps.Load())
}

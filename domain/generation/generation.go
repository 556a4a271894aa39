// Package generation defines the requests, results and errors exchanged with the
// image-generation automation engine.
package generation

import (
	"fmt"
	"strings"
)

// DefaultTimeoutMs is used when a Request carries no timeout of its own.
const DefaultTimeoutMs = 120000

// Request is a single generation ask: a prompt plus optional reference images.
type Request struct {
	// Prompt is the text typed into the prompt field.
	Prompt string

	// ReferenceImages are local file paths uploaded in order before submitting.
	ReferenceImages []string

	// TimeoutMs bounds the wait for results after submission.
	TimeoutMs int

	// Release, when set, is called once the reference images are no longer
	// needed: after the request ran, or when it was dropped unrun.
	Release func()
}

// ReleaseReferences calls Release at most once.
func (r *Request) ReleaseReferences() {
	if r.Release != nil {
		release := r.Release
		r.Release = nil
		release()
	}
}

// Validate checks the request before it reaches the browser.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if r.TimeoutMs < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", r.TimeoutMs)
	}
	for i, p := range r.ReferenceImages {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("reference image %d has an empty path", i)
		}
	}
	return nil
}

// Result holds the captured images of one generation, in match order.
type Result struct {
	Images     [][]byte
	Identities []string
}

// TotalBytes returns the combined size of all captured images.
func (r *Result) TotalBytes() int {
	n := 0
	for _, img := range r.Images {
		n += len(img)
	}
	return n
}

// ImageMatch is a result element on the live page.
// Identity (the element's source URL) is the only de-duplication key.
type ImageMatch struct {
	Ref      string
	Identity string
	Alt      string
}

// Identities returns the identity of every match, preserving order.
func Identities(matches []ImageMatch) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Identity
	}
	return ids
}

// IdentitySet builds a lookup set from matches.
func IdentitySet(matches []ImageMatch) map[string]struct{} {
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m.Identity] = struct{}{}
	}
	return set
}

// Fresh returns the matches whose identity is absent from baseline.
func Fresh(current []ImageMatch, baseline map[string]struct{}) []ImageMatch {
	var fresh []ImageMatch
	for _, m := range current {
		if _, seen := baseline[m.Identity]; seen {
			continue
		}
		fresh = append(fresh, m)
	}
	return fresh
}

// Scale is an upscale resolution tier offered by the site's export menu.
type Scale string

const (
	Scale1K Scale = "1K"
	Scale2K Scale = "2K"
	Scale4K Scale = "4K"
)

// ParseScale accepts "1K", "2K" or "4K" (case-insensitive).
func ParseScale(s string) (Scale, error) {
	switch Scale(strings.ToUpper(strings.TrimSpace(s))) {
	case Scale1K:
		return Scale1K, nil
	case Scale2K:
		return Scale2K, nil
	case Scale4K:
		return Scale4K, nil
	default:
		return "", fmt.Errorf("invalid scale %q: want 1K, 2K or 4K", s)
	}
}

// MenuLabel returns the export menu entry text for this scale.
func (s Scale) MenuLabel() string {
	return "Download " + string(s)
}

// UpscaleRequest selects a previously generated image by prompt and index.
type UpscaleRequest struct {
	Prompt string
	// Index is 0-based into the current matching set for Prompt.
	Index int
	Scale Scale
}

// Validate checks the request before it reaches the browser. The index is
// checked against the live page, where any index outside the matching set is
// ErrImageNotFound.
func (r *UpscaleRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if _, err := ParseScale(string(r.Scale)); err != nil {
		return err
	}
	return nil
}

// ErrorKind distinguishes the two error signals the site emits.
type ErrorKind int

const (
	// KindNotification is a transient toast notification.
	KindNotification ErrorKind = iota
	// KindInlinePanel is a static failure message inside the result area.
	KindInlinePanel
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindInlinePanel:
		return "inline_panel"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ErrorEvent is an error signal observed on the page.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
	// Recovered is set when the detector already reloaded the page.
	Recovered bool
}

// Package locator defines named element-location strategies for the target site.
//
// Each UI element the engine touches is addressed by a Target. A Strategy lists the
// candidate queries for a target in fallback order, so the site's markup can change
// without code changes: only the strategy file needs updating.
package locator

import (
	"fmt"
	"strings"
)

// Target names a UI element the engine interacts with.
type Target string

const (
	TargetModeToggle          Target = "mode_toggle"
	TargetPromptField         Target = "prompt_field"
	TargetAddButton           Target = "add_button"
	TargetUploadedItem        Target = "uploaded_item"
	TargetUploadButton        Target = "upload_button"
	TargetCropConfirm         Target = "crop_confirm"
	TargetCreateButton        Target = "create_button"
	TargetNotification        Target = "notification"
	TargetNotificationIcon    Target = "notification_icon"
	TargetNotificationTitle   Target = "notification_title"
	TargetNotificationContent Target = "notification_content"
	TargetInlineError         Target = "inline_error"
	TargetResultImage         Target = "result_image"
	TargetDownloadControl     Target = "download_control"
	TargetMenuEntry           Target = "menu_entry"
)

// RequiredTargets lists every target the engine looks up.
var RequiredTargets = []Target{
	TargetModeToggle,
	TargetPromptField,
	TargetAddButton,
	TargetUploadedItem,
	TargetUploadButton,
	TargetCropConfirm,
	TargetCreateButton,
	TargetNotification,
	TargetNotificationIcon,
	TargetNotificationTitle,
	TargetNotificationContent,
	TargetInlineError,
	TargetResultImage,
	TargetDownloadControl,
	TargetMenuEntry,
}

// Pick narrows a match set to one element.
type Pick string

const (
	PickAll   Pick = ""
	PickFirst Pick = "first"
	PickLast  Pick = "last"
)

// Child constrains an element by one of its descendants.
type Child struct {
	// CSS selects descendants of the candidate element.
	CSS string `json:"css"`

	// Text, when set, must equal the descendant's trimmed text.
	Text string `json:"text,omitempty"`
}

// Query is one way of finding a target.
// Filters combine with AND. The JS engine in the browser and the goquery matcher
// in this package implement the same semantics.
type Query struct {
	Target Target `json:"target"`

	// CSS is the base selector.
	CSS string `json:"css"`

	// HasText keeps elements whose text contains this value, ignoring case.
	HasText string `json:"hasText,omitempty"`

	// ExactText keeps elements whose trimmed text equals this value.
	ExactText string `json:"exactText,omitempty"`

	Has    *Child `json:"has,omitempty"`
	HasNot *Child `json:"hasNot,omitempty"`

	// AttrContains keeps elements whose attribute values contain the given substrings.
	AttrContains map[string]string `json:"attrContains,omitempty"`

	VisibleOnly bool `json:"visibleOnly,omitempty"`
	Pick        Pick `json:"pick,omitempty"`
}

// Vars are placeholder values substituted into queries, e.g. {"prompt": "a red circle"}.
type Vars map[string]string

// Bind returns a copy of q with every {name} placeholder replaced from vars.
func (q Query) Bind(vars Vars) Query {
	if len(vars) == 0 {
		return q
	}
	out := q
	out.CSS = substitute(q.CSS, vars)
	out.HasText = substitute(q.HasText, vars)
	out.ExactText = substitute(q.ExactText, vars)
	if q.Has != nil {
		c := Child{CSS: substitute(q.Has.CSS, vars), Text: substitute(q.Has.Text, vars)}
		out.Has = &c
	}
	if q.HasNot != nil {
		c := Child{CSS: substitute(q.HasNot.CSS, vars), Text: substitute(q.HasNot.Text, vars)}
		out.HasNot = &c
	}
	if q.AttrContains != nil {
		out.AttrContains = make(map[string]string, len(q.AttrContains))
		for k, v := range q.AttrContains {
			out.AttrContains[k] = substitute(v, vars)
		}
	}
	return out
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.CSS)
	if q.HasText != "" {
		fmt.Fprintf(&b, " hasText=%q", q.HasText)
	}
	if q.ExactText != "" {
		fmt.Fprintf(&b, " exactText=%q", q.ExactText)
	}
	if q.Has != nil {
		fmt.Fprintf(&b, " has=%s:%q", q.Has.CSS, q.Has.Text)
	}
	if q.HasNot != nil {
		fmt.Fprintf(&b, " hasNot=%s:%q", q.HasNot.CSS, q.HasNot.Text)
	}
	for k, v := range q.AttrContains {
		fmt.Fprintf(&b, " [%s*=%q]", k, v)
	}
	if q.Pick != PickAll {
		fmt.Fprintf(&b, " pick=%s", q.Pick)
	}
	return b.String()
}

func substitute(s string, vars Vars) string {
	if !strings.Contains(s, "{") {
		return s
	}
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}

// Strategy is the ordered list of candidate queries for a target.
type Strategy struct {
	Target      Target
	Description string

	// Candidates are tried in order; the first one that matches wins.
	Candidates []Query
}

// Bound returns the candidates with vars substituted.
func (s *Strategy) Bound(vars Vars) []Query {
	out := make([]Query, len(s.Candidates))
	for i, q := range s.Candidates {
		out[i] = q.Bind(vars)
	}
	return out
}

// Validate checks that every candidate has a selector and a known pick mode.
func (s *Strategy) Validate() error {
	if s.Target == "" {
		return fmt.Errorf("strategy has no target")
	}
	if len(s.Candidates) == 0 {
		return fmt.Errorf("strategy %s has no candidates", s.Target)
	}
	for i, q := range s.Candidates {
		if strings.TrimSpace(q.CSS) == "" {
			return fmt.Errorf("strategy %s candidate %d has no css", s.Target, i)
		}
		switch q.Pick {
		case PickAll, PickFirst, PickLast:
		default:
			return fmt.Errorf("strategy %s candidate %d has unknown pick %q", s.Target, i, q.Pick)
		}
		if q.Has != nil && q.Has.CSS == "" {
			return fmt.Errorf("strategy %s candidate %d has an empty 'has' selector", s.Target, i)
		}
		if q.HasNot != nil && q.HasNot.CSS == "" {
			return fmt.Errorf("strategy %s candidate %d has an empty 'hasNot' selector", s.Target, i)
		}
	}
	return nil
}

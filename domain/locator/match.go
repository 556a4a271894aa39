package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Match evaluates q against the descendants of root and returns the matching
// elements in document order, narrowed by q.Pick.
func Match(root *goquery.Selection, q Query) *goquery.Selection {
	sel := root.Find(q.CSS).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return Accepts(s, q)
	})
	switch q.Pick {
	case PickFirst:
		return sel.First()
	case PickLast:
		return sel.Last()
	default:
		return sel
	}
}

// MatchFirst tries each query in order and returns the first non-empty result
// with its candidate index, or nil and -1 when nothing matches.
func MatchFirst(root *goquery.Selection, queries []Query) (*goquery.Selection, int) {
	for i, q := range queries {
		if sel := Match(root, q); sel.Length() > 0 {
			return sel, i
		}
	}
	return nil, -1
}

// Accepts reports whether a single element passes every filter in q except CSS and Pick.
func Accepts(s *goquery.Selection, q Query) bool {
	text := NormalizeText(s.Text())
	if q.HasText != "" && !strings.Contains(strings.ToLower(text), strings.ToLower(q.HasText)) {
		return false
	}
	if q.ExactText != "" && text != q.ExactText {
		return false
	}
	if q.Has != nil && !hasChild(s, q.Has) {
		return false
	}
	if q.HasNot != nil && hasChild(s, q.HasNot) {
		return false
	}
	for name, want := range q.AttrContains {
		got, ok := s.Attr(name)
		if !ok || !strings.Contains(got, want) {
			return false
		}
	}
	if q.VisibleOnly && !Visible(s) {
		return false
	}
	return true
}

func hasChild(s *goquery.Selection, c *Child) bool {
	found := false
	s.Find(c.CSS).EachWithBreak(func(_ int, child *goquery.Selection) bool {
		if c.Text == "" || NormalizeText(child.Text()) == c.Text {
			found = true
			return false
		}
		return true
	})
	return found
}

// Visible approximates rendering visibility from markup alone: an element is hidden
// when it or an ancestor carries the hidden attribute or an inline display:none or
// visibility:hidden style.
func Visible(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		style, _ := cur.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

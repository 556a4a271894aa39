package browser

import (
	"encoding/json"
	"fmt"

	"flowpilot-go/domain/locator"
)

// queryResult is what the page-side query function returns.
type queryResult struct {
	Stale    bool      `json:"stale"`
	Elements []Element `json:"elements"`
}

// queryEngine evaluates a locator query in the page. Matched elements are stamped
// with a ref attribute so later actions can address them with a plain selector.
// Text and visibility follow the same rules as locator.Match.
const queryEngine = `(function (q, scopeRef, levels) {
  const REF = 'data-flowpilot-ref';
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const visible = (el) => {
    const style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const hasChild = (el, c) =>
    Array.from(el.querySelectorAll(c.css)).some((ch) => !c.text || norm(ch.textContent) === c.text);

  let root = document;
  if (scopeRef) {
    let el = document.querySelector('[' + REF + '="' + scopeRef + '"]');
    if (!el) return { stale: true, elements: [] };
    for (let i = 0; i < levels && el.parentElement; i++) el = el.parentElement;
    root = el;
  }

  let els = Array.from(root.querySelectorAll(q.css)).filter((el) => {
    const text = norm(el.textContent);
    if (q.hasText && !text.toLowerCase().includes(q.hasText.toLowerCase())) return false;
    if (q.exactText && text !== q.exactText) return false;
    if (q.has && !hasChild(el, q.has)) return false;
    if (q.hasNot && hasChild(el, q.hasNot)) return false;
    if (q.attrContains) {
      for (const [name, want] of Object.entries(q.attrContains)) {
        const got = el.getAttribute(name);
        if (got === null || !got.includes(want)) return false;
      }
    }
    if (q.visibleOnly && !visible(el)) return false;
    return true;
  });
  if (q.pick === 'first') els = els.slice(0, 1);
  if (q.pick === 'last') els = els.slice(-1);

  window.__flowpilotSeq = window.__flowpilotSeq || 0;
  return {
    stale: false,
    elements: els.map((el) => {
      let ref = el.getAttribute(REF);
      if (!ref) {
        ref = String(++window.__flowpilotSeq);
        el.setAttribute(REF, ref);
      }
      const attrs = {};
      for (const a of el.attributes) attrs[a.name] = a.value;
      return {
        ref: ref,
        text: norm(el.textContent),
        attrs: attrs,
        visible: visible(el),
        enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
      };
    }),
  };
})`

// inspectEngine reports the state of one stamped element.
const inspectEngine = `(function (ref) {
  const el = document.querySelector('[data-flowpilot-ref="' + ref + '"]');
  if (!el) return { stale: true, elements: [] };
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const style = window.getComputedStyle(el);
  const r = el.getBoundingClientRect();
  const attrs = {};
  for (const a of el.attributes) attrs[a.name] = a.value;
  return {
    stale: false,
    elements: [{
      ref: ref,
      text: norm(el.textContent),
      attrs: attrs,
      visible: style.display !== 'none' && style.visibility !== 'hidden' && r.width > 0 && r.height > 0,
      enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
    }],
  };
})`

// fillEngine sets a field value through the native setter so framework-managed
// inputs observe the change.
const fillEngine = `(function (ref, text) {
  const el = document.querySelector('[data-flowpilot-ref="' + ref + '"]');
  if (!el) return false;
  el.focus();
  let proto = null;
  if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
  else if (el instanceof HTMLInputElement) proto = HTMLInputElement.prototype;
  const desc = proto && Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) desc.set.call(el, text);
  else el.textContent = text;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})`

func queryExpression(q locator.Query, scopeRef string, levels int) (string, error) {
	qj, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode query: %w", err)
	}
	sj, err := json.Marshal(scopeRef)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s, %s, %d)", queryEngine, qj, sj, levels), nil
}

func inspectExpression(ref string) string {
	rj, _ := json.Marshal(ref)
	return fmt.Sprintf("%s(%s)", inspectEngine, rj)
}

func fillExpression(ref, text string) string {
	rj, _ := json.Marshal(ref)
	tj, _ := json.Marshal(text)
	return fmt.Sprintf("%s(%s, %s)", fillEngine, rj, tj)
}

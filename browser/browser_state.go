package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/naylin209/instalogin/driver"
)

// IndexedElement is one visible interactive element, numbered in document order.
type IndexedElement struct {
	Index    int               `json:"index"`
	Selector string            `json:"selector"`
	Tag      string            `json:"tag"`
	Text     string            `json:"text"`
	Attrs    map[string]string `json:"attrs"`
	Bounding BoundingBox       `json:"rect"`
}

// PageState is what InteractiveElementsJS reports about the current document.
type PageState struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Elements []IndexedElement `json:"elements"`
}

// ParsePageState decodes the JSON produced by InteractiveElementsJS and
// assigns 1-based indexes. Elements without a selector are dropped.
func ParsePageState(raw string) (*PageState, error) {
	state := &PageState{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("decode page state: %w", err)
	}
	indexed := make([]IndexedElement, 0, len(state.Elements))
	for _, element := range state.Elements {
		element.Selector = strings.TrimSpace(element.Selector)
		if element.Selector == "" {
			continue
		}
		element.Index = len(indexed) + 1
		indexed = append(indexed, element)
	}
	state.Elements = indexed
	return state, nil
}

// ElementInfos converts the collected elements to the driver's form.
func (s *PageState) ElementInfos() []driver.ElementInfo {
	infos := make([]driver.ElementInfo, 0, len(s.Elements))
	for _, el := range s.Elements {
		infos = append(infos, driver.ElementInfo{
			Index:    el.Index,
			Tag:      el.Tag,
			Text:     el.Text,
			Selector: el.Selector,
			Attrs:    el.Attrs,
			X:        el.Bounding.X,
			Y:        el.Bounding.Y,
			Width:    el.Bounding.Width,
			Height:   el.Bounding.Height,
		})
	}
	return infos
}

// State collects the page's interactive elements. When the collector script
// fails, URL and title are still filled in from simpler expressions or, as a
// last resort, from the target info.
func (p *Page) State(ctx context.Context) (*PageState, error) {
	raw, err := p.Evaluate(ctx, InteractiveElementsJS)
	if err == nil {
		if state, parseErr := ParsePageState(raw); parseErr == nil {
			return state, nil
		}
	}
	url, urlErr := p.Evaluate(ctx, "window.location.href")
	if urlErr != nil {
		// Mid-navigation there may be no context to evaluate in; the target
		// events still carry the address.
		if target, ok := p.browser.sessionManager.Target(p.targetID); ok && target.URL != "" {
			return &PageState{URL: target.URL, Title: target.Title}, nil
		}
		return nil, urlErr
	}
	title, _ := p.Evaluate(ctx, "document.title")
	return &PageState{URL: strings.TrimSpace(url), Title: strings.TrimSpace(title)}, nil
}

// InteractiveElementsJS surveys the visible form controls, links and
// labelled elements (the signed-in marker is an svg with an aria-label).
// Selectors prefer name, aria-label and id attributes so they read like the
// ones the login steps wait for. Password values are never reported.
const InteractiveElementsJS = `(function(){
  const query = 'input,button,select,textarea,a[href],svg[aria-label],[aria-label],[role],[tabindex],[contenteditable="true"]';
  const found = [];
  const seen = new Set();
  const collect = (root) => {
    root.querySelectorAll(query).forEach((el) => {
      if (!seen.has(el)) { seen.add(el); found.push(el); }
    });
    root.querySelectorAll('*').forEach((el) => { if (el.shadowRoot) collect(el.shadowRoot); });
  };
  collect(document);

  const shown = (el) => {
    const style = window.getComputedStyle(el);
    if (!style || style.display === 'none' || style.visibility === 'hidden') return false;
    if (parseFloat(style.opacity || '1') <= 0) return false;
    const box = el.getBoundingClientRect();
    return box.width > 1 && box.height > 1;
  };
  const quote = (v) => "'" + String(v).replace(/\\/g, '\\\\').replace(/'/g, "\\'") + "'";
  const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : String(v).replace(/[^\w-]/g, (c) => '\\' + c);
  const tagOf = (el) => el.tagName.toLowerCase();
  const step = (el) => {
    const tag = tagOf(el);
    let n = 1;
    for (let s = el.previousElementSibling; s; s = s.previousElementSibling) {
      if (s.tagName === el.tagName) n++;
    }
    return tag + ':nth-of-type(' + n + ')';
  };
  const selectorFor = (el) => {
    const tag = tagOf(el);
    for (const attr of ['name', 'aria-label']) {
      const v = el.getAttribute(attr);
      if (v && document.querySelectorAll(tag + '[' + attr + '=' + quote(v) + ']').length === 1) {
        return tag + '[' + attr + '=' + quote(v) + ']';
      }
    }
    if (el.id) return '#' + esc(el.id);
    const path = [];
    for (let cur = el; cur && cur.nodeType === 1 && path.length < 8; cur = cur.parentElement) {
      if (cur.id) { path.unshift('#' + esc(cur.id)); break; }
      path.unshift(step(cur));
    }
    return path.join(' > ');
  };
  // A show-password toggle flips type to text, so name and autocomplete
  // count too.
  const secret = (el) => {
    if (tagOf(el) !== 'input') return false;
    const attr = (name) => (el.getAttribute(name) || '').toLowerCase();
    return attr('type') === 'password' || attr('name') === 'password' ||
      ['current-password', 'new-password'].includes(attr('autocomplete'));
  };
  const textOf = (el) => {
    const v = secret(el) ? '' : (el.innerText || el.value || '');
    return (v || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '').trim().slice(0, 200);
  };

  const elements = found.filter(shown).slice(0, 200).map((el) => {
    const box = el.getBoundingClientRect();
    const attrs = {};
    for (const name of ['name', 'type', 'aria-label', 'placeholder', 'role', 'autocomplete', 'title', 'alt', 'tabindex']) {
      const v = el.getAttribute(name);
      if (v) attrs[name] = v;
    }
    return {
      selector: selectorFor(el),
      tag: tagOf(el),
      text: textOf(el),
      attrs,
      rect: {x: box.x, y: box.y, width: box.width, height: box.height}
    };
  });
  return JSON.stringify({url: location.href, title: document.title, elements});
})()`

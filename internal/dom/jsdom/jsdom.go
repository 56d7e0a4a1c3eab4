//go:build js && wasm

// Package jsdom binds the dom interfaces to the browser document through
// syscall/js, for the WebAssembly build of the guard.
package jsdom

import (
	"strconv"
	"sync"
	"sync/atomic"
	"syscall/js"

	"github.com/trustlayer/trustlayer-guard/internal/dom"
)

// keyAttr stores the guard's identity for an element. js.Value is not
// comparable, so elements are keyed by this attribute instead.
const keyAttr = "data-trustlayer-key"

var keySeq atomic.Uint64

// Element wraps a DOM element.
type Element struct {
	v       js.Value
	keyOnce sync.Once
	key     string
}

var _ dom.Element = (*Element)(nil)

// Wrap returns the Element for v. The page is not touched until Key is
// called.
func Wrap(v js.Value) *Element {
	return &Element{v: v}
}

// Key returns the element's stable key, tagging the element on first use.
func (e *Element) Key() string {
	e.keyOnce.Do(func() {
		a := e.v.Call("getAttribute", keyAttr)
		if !a.IsNull() && !a.IsUndefined() {
			e.key = a.String()
			return
		}
		e.key = "tl-" + strconv.FormatUint(keySeq.Add(1), 10)
		e.v.Call("setAttribute", keyAttr, e.key)
	})
	return e.key
}

func (e *Element) TagName() string { return stringProp(e.v, "tagName") }

func (e *Element) Attribute(name string) (string, bool) {
	a := e.v.Call("getAttribute", name)
	if a.IsNull() || a.IsUndefined() {
		return "", false
	}
	return a.String(), true
}

func (e *Element) Value() string { return stringProp(e.v, "value") }
func (e *Element) SetValue(v string) { e.v.Set("value", v) }
func (e *Element) InnerText() string { return stringProp(e.v, "innerText") }
func (e *Element) SetInnerText(s string) { e.v.Set("innerText", s) }

func stringProp(v js.Value, name string) string {
	p := v.Get(name)
	if p.Type() != js.TypeString {
		return ""
	}
	return p.String()
}

// Document is the page's document.
type Document struct {
	doc js.Value
}

// Current returns the global document.
func Current() *Document {
	return &Document{doc: js.Global().Get("document")}
}

// AddInputListener registers fn for input events in the capturing phase
// and returns a function that removes the listener and releases it.
func (d *Document) AddInputListener(fn func(dom.Element)) (remove func()) {
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		target := args[0].Get("target")
		if target.IsNull() || target.IsUndefined() || target.Get("nodeType").Int() != 1 {
			return nil
		}
		fn(Wrap(target))
		return nil
	})
	d.doc.Call("addEventListener", "input", cb, true)
	return func() {
		d.doc.Call("removeEventListener", "input", cb, true)
		cb.Release()
	}
}

// Surface is the notification box. It implements notify.Surface.
type Surface struct {
	el js.Value
}

// NotificationSurface returns the element with the given id, creating a
// <div> and appending it to the body if needed.
func (d *Document) NotificationSurface(id string) *Surface {
	el := d.doc.Call("getElementById", id)
	if el.IsNull() {
		el = d.doc.Call("createElement", "div")
		el.Set("id", id)
		d.doc.Get("body").Call("appendChild", el)
	}
	return &Surface{el: el}
}

func (s *Surface) SetText(text string) { s.el.Set("innerText", text) }

func (s *Surface) SetVisible(visible bool) {
	if visible {
		s.el.Set("className", "show")
		return
	}
	s.el.Set("className", "")
}

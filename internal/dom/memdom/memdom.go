// Package memdom is an in-memory document used by the headless guard and by
// tests. It models just enough of a browser document: elements with tags,
// attributes, a value and inner text, and a document-wide input listener.
package memdom

import (
	"strconv"
	"strings"
	"sync"

	"github.com/trustlayer/trustlayer-guard/internal/dom"
)

// Document holds elements and input listeners.
type Document struct {
	mu        sync.Mutex
	nextKey   int
	nextLn    int
	body      []*Element
	listeners map[int]func(dom.Element)
	queued    []*Element

	// EchoWrites makes programmatic writes queue an input event, delivered by
	// DrainEvents, the way some rich editors re-emit input after a DOM change.
	EchoWrites bool
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{listeners: make(map[int]func(dom.Element))}
}

// Element is a memdom element. It implements dom.Element.
type Element struct {
	doc    *Document
	key    string
	tag    string
	attrs  map[string]string
	value  string
	text   string
	writes int
}

var _ dom.Element = (*Element)(nil)

// CreateElement makes a detached element with the given tag.
func (d *Document) CreateElement(tag string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextKey++
	return &Element{
		doc:   d,
		key:   "el-" + strconv.Itoa(d.nextKey),
		tag:   strings.ToUpper(tag),
		attrs: make(map[string]string),
	}
}

// Append attaches el to the document body.
func (d *Document) Append(el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body = append(d.body, el)
}

// GetElementByID returns the attached element whose id attribute is id.
func (d *Document) GetElementByID(id string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range d.body {
		if el.attrs["id"] == id {
			return el
		}
	}
	return nil
}

// AddInputListener registers fn for every input event in the document and
// returns a function that unregisters it.
func (d *Document) AddInputListener(fn func(dom.Element)) (remove func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextLn++
	id := d.nextLn
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Dispatch delivers an input event for el to every listener.
func (d *Document) Dispatch(el *Element) {
	d.mu.Lock()
	fns := make([]func(dom.Element), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(el)
	}
}

// Type simulates the user replacing the content of el with text and
// dispatches the resulting input event.
func (d *Document) Type(el *Element, text string) {
	kind := dom.KindOf(el)
	d.mu.Lock()
	if kind == dom.KindTextArea {
		el.value = text
	} else {
		el.text = text
	}
	d.mu.Unlock()
	d.Dispatch(el)
}

// DrainEvents delivers queued echo events and returns how many were sent.
func (d *Document) DrainEvents() int {
	d.mu.Lock()
	queued := d.queued
	d.queued = nil
	d.mu.Unlock()

	for _, el := range queued {
		d.Dispatch(el)
	}
	return len(queued)
}

// Key implements dom.Element.
func (e *Element) Key() string { return e.key }

// TagName implements dom.Element.
func (e *Element) TagName() string { return e.tag }

// Attribute implements dom.Element.
func (e *Element) Attribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := e.attrs[strings.ToLower(name)]
	return v, ok
}

// SetAttribute sets an attribute; names are case-insensitive.
func (e *Element) SetAttribute(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.attrs[strings.ToLower(name)] = value
}

// Value implements dom.Element.
func (e *Element) Value() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.value
}

// SetValue implements dom.Element.
func (e *Element) SetValue(v string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.value = v
	e.wrote()
}

// InnerText implements dom.Element.
func (e *Element) InnerText() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.text
}

// SetInnerText implements dom.Element.
func (e *Element) SetInnerText(s string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.text = s
	e.wrote()
}

// Writes returns how many programmatic writes the element received.
func (e *Element) Writes() int {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.writes
}

// wrote records a programmatic write. Caller holds doc.mu.
func (e *Element) wrote() {
	e.writes++
	if e.doc.EchoWrites {
		e.doc.queued = append(e.doc.queued, e)
	}
}

// Package dom describes the slice of a document the guard works with:
// which elements are monitored text surfaces, and how their text is read
// and written back.
package dom

import "strings"

// Kind is the text modality of a monitored element.
type Kind int

const (
	// KindNone marks an element the guard ignores.
	KindNone Kind = iota
	// KindTextArea is a <textarea>; its text lives in the value property.
	KindTextArea
	// KindEditable is a contenteditable="true" region; its text is the
	// rendered inner text.
	KindEditable
)

func (k Kind) String() string {
	switch k {
	case KindTextArea:
		return "textarea"
	case KindEditable:
		return "editable"
	default:
		return "none"
	}
}

// Element is a live document element. The host document owns it; the guard
// only holds references for the duration of a scan.
type Element interface {
	// Key is a stable identity for the element within its document.
	Key() string
	TagName() string
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool)
	Value() string
	SetValue(v string)
	InnerText() string
	SetInnerText(s string)
}

// KindOf classifies el. Text areas win over the editable attribute.
func KindOf(el Element) Kind {
	if el == nil {
		return KindNone
	}
	if strings.EqualFold(el.TagName(), "TEXTAREA") {
		return KindTextArea
	}
	if v, ok := el.Attribute("contenteditable"); ok && v == "true" {
		return KindEditable
	}
	return KindNone
}

// IsMonitorable reports whether el is a text surface the guard scans.
func IsMonitorable(el Element) bool {
	return KindOf(el) != KindNone
}

// ReadText returns the current text of el using its kind's modality.
func ReadText(el Element) string {
	if KindOf(el) == KindTextArea {
		return el.Value()
	}
	return el.InnerText()
}

// WriteText replaces the text of el using the same modality ReadText uses.
func WriteText(el Element, text string) {
	if KindOf(el) == KindTextArea {
		el.SetValue(text)
		return
	}
	el.SetInnerText(text)
}

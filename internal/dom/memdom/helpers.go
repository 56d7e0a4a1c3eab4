package memdom

// NewTextArea creates and attaches a <textarea>.
func (d *Document) NewTextArea() *Element {
	el := d.CreateElement("textarea")
	d.Append(el)
	return el
}

// NewEditable creates and attaches a <div contenteditable="true">.
func (d *Document) NewEditable() *Element {
	el := d.CreateElement("div")
	el.SetAttribute("contenteditable", "true")
	d.Append(el)
	return el
}

// Surface is a notification box backed by a memdom element. It implements
// notify.Surface.
type Surface struct {
	el *Element
}

// NotificationSurface returns the element with the given id, creating and
// attaching a <div> when it does not exist yet.
func (d *Document) NotificationSurface(id string) *Surface {
	el := d.GetElementByID(id)
	if el == nil {
		el = d.CreateElement("div")
		el.SetAttribute("id", id)
		d.Append(el)
	}
	return &Surface{el: el}
}

// SetText sets the box's inner text without queueing an echo event.
func (s *Surface) SetText(text string) {
	s.el.doc.mu.Lock()
	defer s.el.doc.mu.Unlock()
	s.el.text = text
}

// SetVisible toggles the "show" class.
func (s *Surface) SetVisible(visible bool) {
	class := ""
	if visible {
		class = "show"
	}
	s.el.SetAttribute("class", class)
}

// Element exposes the backing element.
func (s *Surface) Element() *Element { return s.el }

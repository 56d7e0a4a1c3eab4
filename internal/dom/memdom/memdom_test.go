package memdom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustlayer/trustlayer-guard/internal/dom"
)

func TestType_DispatchesToListeners(t *testing.T) {
	doc := NewDocument()
	area := doc.NewTextArea()

	var got []string
	remove := doc.AddInputListener(func(el dom.Element) {
		got = append(got, dom.ReadText(el))
	})

	doc.Type(area, "first")
	remove()
	doc.Type(area, "second")

	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, "second", area.Value())
	assert.Zero(t, area.Writes(), "user typing is not a programmatic write")
}

func TestEchoWrites_QueuedUntilDrained(t *testing.T) {
	doc := NewDocument()
	doc.EchoWrites = true
	region := doc.NewEditable()

	events := 0
	doc.AddInputListener(func(dom.Element) { events++ })

	region.SetInnerText("written")
	assert.Equal(t, 0, events, "echo is delivered later, not during the write")
	assert.Equal(t, 1, doc.DrainEvents())
	assert.Equal(t, 1, events)
	assert.Equal(t, 0, doc.DrainEvents())
}

func TestNotificationSurface_CreatedOnceAndReused(t *testing.T) {
	doc := NewDocument()
	require.Nil(t, doc.GetElementByID("trustlayer-notify"))

	s1 := doc.NotificationSurface("trustlayer-notify")
	s1.SetText("hello")
	s1.SetVisible(true)

	s2 := doc.NotificationSurface("trustlayer-notify")
	assert.Same(t, s1.Element(), s2.Element())
	assert.Equal(t, "hello", s2.Element().InnerText())
	class, _ := s2.Element().Attribute("class")
	assert.Equal(t, "show", class)

	s2.SetVisible(false)
	class, _ = s1.Element().Attribute("class")
	assert.Empty(t, class)
	assert.Zero(t, s1.Element().Writes())
}

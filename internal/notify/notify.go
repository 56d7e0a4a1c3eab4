// Package notify shows one transient, non-blocking message at a time.
package notify

import (
	"sync"
	"time"

	"github.com/trustlayer/trustlayer-guard/internal/clock"
)

const (
	// DefaultDuration is how long a message stays visible.
	DefaultDuration = 3000 * time.Millisecond
	// ElementID is the id of the notification element in the page.
	ElementID = "trustlayer-notify"
	// RedactedMessage is shown after a field was rewritten.
	RedactedMessage = "TrustLayer: PII Redacted"
)

// Surface is the single UI element messages are rendered into.
type Surface interface {
	SetText(text string)
	SetVisible(visible bool)
}

// Notifier owns the surface and its hide timer. The most recent message wins
// and restarts the timer.
type Notifier struct {
	newSurface func() Surface
	clock      clock.Clock
	duration   time.Duration

	mu      sync.Mutex
	surface Surface
	timer   clock.Timer
	gen     uint64
	current string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock sets the timer source.
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// WithDuration sets how long messages stay visible.
func WithDuration(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.duration = d
		}
	}
}

// New creates a Notifier. newSurface is called once, on the first Notify.
func New(newSurface func() Surface, opts ...Option) *Notifier {
	n := &Notifier{
		newSurface: newSurface,
		clock:      clock.Real(),
		duration:   DefaultDuration,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify displays msg and schedules it to clear after the duration.
func (n *Notifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.surface == nil {
		n.surface = n.newSurface()
	}
	n.surface.SetText(msg)
	n.surface.SetVisible(true)
	n.current = msg

	if n.timer != nil {
		n.timer.Stop()
	}
	n.gen++
	gen := n.gen
	n.timer = n.clock.AfterFunc(n.duration, func() { n.hide(gen) })
}

func (n *Notifier) hide(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen || n.surface == nil {
		return
	}
	n.surface.SetVisible(false)
	n.current = ""
	n.timer = nil
}

// Visible returns the message currently shown, or "" when hidden.
func (n *Notifier) Visible() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close stops the hide timer and hides the surface if one was created.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.surface != nil {
		n.surface.SetVisible(false)
	}
	n.current = ""
}

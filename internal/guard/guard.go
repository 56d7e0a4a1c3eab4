// Package guard wires the input pipeline together: monitored edits are
// debounced per field, the field text is sent to the sanitizer, and the
// field is rewritten when the sanitizer changed it.
//
// A Guard is the explicit per-document context. It is created when the
// guard attaches to a document and torn down by Close when it detaches.
// Every callback body (input event, debounce fire, sanitizer completion)
// runs under the Guard's mutex, so callbacks never interleave.
package guard

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustlayer/trustlayer-guard/internal/clock"
	"github.com/trustlayer/trustlayer-guard/internal/debounce"
	"github.com/trustlayer/trustlayer-guard/internal/dom"
	"github.com/trustlayer/trustlayer-guard/internal/notify"
	"github.com/trustlayer/trustlayer-guard/internal/sanitizer"
)

// DefaultMinLength is the shortest text that is worth a scan.
const DefaultMinLength = 5

const settlePoll = 10 * time.Millisecond

// Sanitizer performs the remote call.
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) (sanitizer.Result, error)
}

// Notifier displays a transient message.
type Notifier interface {
	Notify(msg string)
}

// Document is a host the guard can listen to.
type Document interface {
	AddInputListener(fn func(dom.Element)) (remove func())
}

// Stats counts pipeline outcomes since the Guard was created.
type Stats struct {
	Scheduled  int // qualifying edits
	Skipped    int // fired scans below the minimum length
	Scans      int // sanitizer calls made
	Failures   int // sanitizer calls that failed
	Stale      int // successful calls discarded because the field moved on
	Unchanged  int // successful calls that returned the input
	Redactions int // fields rewritten
	Suppressed int // input events caused by our own writes
}

type fieldState struct {
	// gen is bumped on every qualifying edit; a scan applies only while its
	// generation is still the latest.
	gen uint64
	// selfWrite holds the text last written by Reconcile until the next input
	// event on the field consumes it.
	selfWrite *string
}

// Guard is the input-capture -> debounce -> sanitize -> reconcile pipeline.
type Guard struct {
	client    Sanitizer
	notifier  Notifier
	scheduler *debounce.Scheduler
	logger    zerolog.Logger
	minLength int
	message   string

	clock clock.Clock
	delay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	fields map[string]*fieldState
	detach []func()
	closed bool
	stats  Stats
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock sets the timer source for debouncing.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithDelay sets the debounce quiet period.
func WithDelay(d time.Duration) Option {
	return func(g *Guard) { g.delay = d }
}

// WithMinLength sets the minimum text length (in characters) for a scan.
func WithMinLength(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.minLength = n
		}
	}
}

// WithMessage sets the notification shown after a redaction.
func WithMessage(msg string) Option {
	return func(g *Guard) {
		if msg != "" {
			g.message = msg
		}
	}
}

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a Guard that sends text to client and reports redactions
// through notifier.
func New(client Sanitizer, notifier Notifier, opts ...Option) *Guard {
	g := &Guard{
		client:    client,
		notifier:  notifier,
		logger:    log.Logger,
		minLength: DefaultMinLength,
		message:   notify.RedactedMessage,
		clock:     clock.Real(),
		delay:     debounce.DefaultDelay,
		fields:    make(map[string]*fieldState),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.scheduler = debounce.New(g.clock, g.delay)
	g.ctx, g.cancel = context.WithCancel(context.Background())
	return g
}

// Attach starts listening to input events on doc. Close detaches.
func (g *Guard) Attach(doc Document) {
	remove := doc.AddInputListener(g.HandleInput)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detach = append(g.detach, remove)
}

// HandleInput is the document input listener. Edits on monitored fields
// (re)arm that field's debounce timer.
func (g *Guard) HandleInput(el dom.Element) {
	if !dom.IsMonitorable(el) {
		return
	}
	key := el.Key()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	st := g.state(key)
	if st.selfWrite != nil {
		marker := *st.selfWrite
		st.selfWrite = nil
		if dom.ReadText(el) == marker {
			g.stats.Suppressed++
			g.logger.Debug().Str("field", key).Msg("guard: ignoring input caused by own write")
			return
		}
	}

	st.gen++
	gen := st.gen
	g.stats.Scheduled++
	g.scheduler.Schedule(key, func() { g.scan(el, gen) })
}

// scan runs when the debounce timer for el fires.
func (g *Guard) scan(el dom.Element, gen uint64) {
	key := el.Key()

	g.mu.Lock()
	if g.closed || g.state(key).gen != gen {
		g.mu.Unlock()
		return
	}
	text := dom.ReadText(el)
	// Length is in characters, so an astral emoji counts once where a
	// browser's String.length would count two UTF-16 units.
	if utf8.RuneCountInString(text) < g.minLength {
		g.stats.Skipped++
		g.mu.Unlock()
		g.logger.Debug().Str("field", key).Int("length", len(text)).Msg("guard: text below minimum length, skipping")
		return
	}
	g.stats.Scans++
	ctx := g.ctx
	g.mu.Unlock()

	g.logger.Debug().Str("field", key).Str("kind", dom.KindOf(el).String()).Int("length", len(text)).Msg("guard: scanning")
	res, err := g.client.Sanitize(ctx, text)

	g.mu.Lock()
	defer g.mu.Unlock()

	// A closed guard cancelled the call itself; that is not a failure.
	if g.closed {
		return
	}
	if err != nil {
		g.stats.Failures++
		g.logger.Warn().Err(err).Str("field", key).Msg("guard: sanitize failed, leaving text untouched")
		return
	}
	if g.state(key).gen != gen {
		g.stats.Stale++
		g.logger.Debug().Str("field", key).Msg("guard: discarding stale sanitize result")
		return
	}
	g.reconcileLocked(el, text, res.Text)
}

// Reconcile rewrites el with sanitized and shows the redaction notice when
// sanitized differs from original. It reports whether a write happened.
func (g *Guard) Reconcile(el dom.Element, original, sanitized string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reconcileLocked(el, original, sanitized)
}

func (g *Guard) reconcileLocked(el dom.Element, original, sanitized string) bool {
	if sanitized == original {
		g.stats.Unchanged++
		return false
	}

	key := el.Key()
	dom.WriteText(el, sanitized)
	g.state(key).selfWrite = &sanitized
	g.stats.Redactions++

	g.notifier.Notify(g.message)
	g.logger.Info().Str("field", key).Int("original_length", len(original)).Int("sanitized_length", len(sanitized)).Msg("guard: pii redacted")
	return true
}

// state returns the bookkeeping for key. Caller holds mu.
func (g *Guard) state(key string) *fieldState {
	st, ok := g.fields[key]
	if !ok {
		st = &fieldState{}
		g.fields[key] = st
	}
	return st
}

// Stats returns a snapshot of the outcome counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Pending returns how many fields have a scan waiting on the debounce timer.
func (g *Guard) Pending() int {
	return g.scheduler.Pending()
}

// Settle blocks until no field has a scan pending or running, polling the
// scheduler, or until ctx is done.
func (g *Guard) Settle(ctx context.Context) error {
	t := time.NewTicker(settlePoll)
	defer t.Stop()
	for g.scheduler.Busy() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Close detaches from every document, cancels pending scans, abandons
// in-flight results and clears the notification. It is safe to call twice.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	detach := g.detach
	g.detach = nil
	g.fields = make(map[string]*fieldState)
	g.mu.Unlock()

	for _, remove := range detach {
		remove()
	}
	g.scheduler.Stop()
	g.cancel()
	if c, ok := g.notifier.(interface{ Close() }); ok {
		c.Close()
	}
}

package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustlayer/trustlayer-guard/internal/clock"
	"github.com/trustlayer/trustlayer-guard/internal/dom/memdom"
	"github.com/trustlayer/trustlayer-guard/internal/notify"
	"github.com/trustlayer/trustlayer-guard/internal/sanitizer"
)

type fakeSanitizer struct {
	mu    sync.Mutex
	calls []string
	fn    func(text string) (sanitizer.Result, error)
}

func (f *fakeSanitizer) Sanitize(_ context.Context, text string) (sanitizer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return sanitizer.Result{Text: text}, nil
	}
	return fn(text)
}

func (f *fakeSanitizer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (n *recordingNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type fixture struct {
	doc      *memdom.Document
	clock    *clock.Fake
	san      *fakeSanitizer
	notifier *recordingNotifier
	guard    *Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		doc:      memdom.NewDocument(),
		clock:    clock.NewFake(),
		san:      &fakeSanitizer{},
		notifier: &recordingNotifier{},
	}
	f.guard = New(f.san, f.notifier, WithClock(f.clock), WithLogger(zerolog.Nop()))
	f.guard.Attach(f.doc)
	t.Cleanup(f.guard.Close)
	return f
}

func redactSSN(text string) (sanitizer.Result, error) {
	if text == "My SSN is 123-45-6789" {
		return sanitizer.Result{Text: "My SSN is [REDACTED]"}, nil
	}
	return sanitizer.Result{Text: text}, nil
}

func TestGuard_DebounceCoalescesToLastText(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()

	for _, text := range []string{"My", "My S", "My SS", "My SSN is", "My SSN is 123-45-6789"} {
		f.doc.Type(area, text)
		f.clock.Advance(300 * time.Millisecond)
	}
	assert.Empty(t, f.san.Calls())

	f.clock.Advance(time.Second)
	assert.Equal(t, []string{"My SSN is 123-45-6789"}, f.san.Calls())
}

func TestGuard_HelloThenHelloBang(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()

	f.doc.Type(area, "hello")
	f.doc.Type(area, "hello!")
	f.clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"hello!"}, f.san.Calls())
}

func TestGuard_MinimumLengthGate(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()

	// Three astral emoji are six UTF-16 units but three characters.
	for _, text := range []string{"", "a", "abcd", "日本語テ", "😀😀😀"} {
		f.doc.Type(area, text)
		f.clock.Advance(time.Second)
	}
	assert.Empty(t, f.san.Calls(), "texts under five characters never reach the network")
	assert.Equal(t, 5, f.guard.Stats().Skipped)

	f.doc.Type(area, "abcde")
	f.clock.Advance(time.Second)
	assert.Equal(t, []string{"abcde"}, f.san.Calls())
}

func TestGuard_UnchangedResultIsNoOp(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()

	f.doc.Type(area, "nothing sensitive here")
	f.clock.Advance(time.Second)

	assert.Len(t, f.san.Calls(), 1)
	assert.Equal(t, "nothing sensitive here", area.Value())
	assert.Zero(t, area.Writes(), "no DOM write when the text is unchanged")
	assert.Empty(t, f.notifier.Messages())
	assert.Equal(t, 1, f.guard.Stats().Unchanged)
}

func TestGuard_ReplacesTextAreaValue(t *testing.T) {
	f := newFixture(t)
	f.san.fn = redactSSN
	area := f.doc.NewTextArea()

	f.doc.Type(area, "My SSN is 123-45-6789")
	f.clock.Advance(time.Second)

	assert.Equal(t, "My SSN is [REDACTED]", area.Value())
	assert.Equal(t, 1, area.Writes())
	assert.Equal(t, []string{notify.RedactedMessage}, f.notifier.Messages())
}

func TestGuard_EditableRegionUsesInnerText(t *testing.T) {
	f := newFixture(t)
	f.san.fn = redactSSN
	region := f.doc.NewEditable()

	f.doc.Type(region, "My SSN is 123-45-6789")
	f.clock.Advance(time.Second)

	assert.Equal(t, []string{"My SSN is 123-45-6789"}, f.san.Calls())
	assert.Equal(t, "My SSN is [REDACTED]", region.InnerText())
	assert.Empty(t, region.Value())
}

func TestGuard_FailureLeavesTextUntouched(t *testing.T) {
	f := newFixture(t)
	f.san.fn = func(string) (sanitizer.Result, error) {
		return sanitizer.Result{}, &sanitizer.StatusError{Code: http.StatusInternalServerError}
	}
	area := f.doc.NewTextArea()

	f.doc.Type(area, "My SSN is 123-45-6789")
	f.clock.Advance(time.Second)

	assert.Equal(t, "My SSN is 123-45-6789", area.Value())
	assert.Zero(t, area.Writes())
	assert.Empty(t, f.notifier.Messages())
	assert.Equal(t, 1, f.guard.Stats().Failures)
}

func TestGuard_IgnoresUnmonitoredElements(t *testing.T) {
	f := newFixture(t)
	input := f.doc.CreateElement("input")
	f.doc.Append(input)

	f.guard.HandleInput(input)
	f.clock.Advance(time.Second)

	assert.Zero(t, f.guard.Stats().Scheduled)
	assert.Zero(t, f.guard.Pending())
}

func TestGuard_FieldsAreDebouncedIndependently(t *testing.T) {
	f := newFixture(t)
	a := f.doc.NewTextArea()
	b := f.doc.NewEditable()

	f.doc.Type(a, "text in field a")
	f.clock.Advance(600 * time.Millisecond)
	f.doc.Type(b, "text in field b")
	assert.Equal(t, 2, f.guard.Pending())

	f.clock.Advance(400 * time.Millisecond)
	assert.Equal(t, []string{"text in field a"}, f.san.Calls(), "editing b must not cancel a")

	f.clock.Advance(600 * time.Millisecond)
	assert.Equal(t, []string{"text in field a", "text in field b"}, f.san.Calls())
}

func TestGuard_StaleResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.san.fn = func(text string) (sanitizer.Result, error) {
		if text == "My SSN is 123-45-6789" {
			close(started)
			<-release
			return sanitizer.Result{Text: "My SSN is [REDACTED]"}, nil
		}
		return sanitizer.Result{Text: text}, nil
	}
	area := f.doc.NewTextArea()

	f.doc.Type(area, "My SSN is 123-45-6789")
	done := make(chan struct{})
	go func() {
		f.clock.Advance(time.Second)
		close(done)
	}()
	<-started

	// The user keeps typing while the request is in flight.
	f.doc.Type(area, "never mind, something else")
	close(release)
	<-done

	assert.Equal(t, "never mind, something else", area.Value())
	assert.Empty(t, f.notifier.Messages())
	assert.Equal(t, 1, f.guard.Stats().Stale)
}

func TestGuard_OwnWriteDoesNotRetrigger(t *testing.T) {
	f := newFixture(t)
	f.doc.EchoWrites = true
	f.san.fn = redactSSN
	area := f.doc.NewTextArea()

	f.doc.Type(area, "My SSN is 123-45-6789")
	f.clock.Advance(time.Second)
	require.Equal(t, "My SSN is [REDACTED]", area.Value())

	assert.Equal(t, 1, f.doc.DrainEvents())
	f.clock.Advance(5 * time.Second)

	assert.Len(t, f.san.Calls(), 1, "the replacement must not schedule another scan")
	assert.Equal(t, 1, f.guard.Stats().Suppressed)

	// A genuine edit afterwards is scanned again.
	f.doc.Type(area, "My SSN is [REDACTED], thanks")
	f.clock.Advance(time.Second)
	assert.Len(t, f.san.Calls(), 2)
}

func TestGuard_ReconcileDirect(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()
	f.doc.Type(area, "same")

	assert.False(t, f.guard.Reconcile(area, "same", "same"))
	assert.Zero(t, area.Writes())

	assert.True(t, f.guard.Reconcile(area, "same", "different"))
	assert.Equal(t, "different", area.Value())
	assert.Len(t, f.notifier.Messages(), 1)
}

func TestGuard_CloseCancelsPendingAndDetaches(t *testing.T) {
	f := newFixture(t)
	area := f.doc.NewTextArea()

	f.doc.Type(area, "pending text")
	f.guard.Close()
	f.clock.Advance(time.Second)
	assert.Empty(t, f.san.Calls())
	assert.True(t, f.notifier.closed)

	f.doc.Type(area, "after close")
	f.clock.Advance(time.Second)
	assert.Empty(t, f.san.Calls())
	assert.Zero(t, f.guard.Pending())

	f.guard.Close()
}

func TestGuard_FailureKinds(t *testing.T) {
	failures := map[string]error{
		"transport": sanitizer.ErrTransport,
		"status":    &sanitizer.StatusError{Code: http.StatusBadGateway},
		"malformed": sanitizer.ErrMalformed,
	}
	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.san.fn = func(string) (sanitizer.Result, error) { return sanitizer.Result{}, failure }
			region := f.doc.NewEditable()

			f.doc.Type(region, "call me at 555-0199")
			f.clock.Advance(time.Second)

			assert.Equal(t, "call me at 555-0199", region.InnerText())
			assert.Empty(t, f.notifier.Messages())
			assert.Equal(t, 1, f.guard.Stats().Failures)
		})
	}
}

// End to end against an HTTP service, the real client and a memdom surface.
func TestGuard_SSNScenarioOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sanitize", r.URL.Path)
		prompt := r.FormValue("prompt")
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		out := prompt
		if prompt == "My SSN is 123-45-6789" {
			out = "My SSN is [REDACTED]"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sanitized_text":"` + out + `"}`))
	}))
	defer srv.Close()

	doc := memdom.NewDocument()
	c := clock.NewFake()
	n := notify.New(func() notify.Surface { return doc.NotificationSurface(notify.ElementID) }, notify.WithClock(c))
	g := New(sanitizer.New(srv.URL+"/v1/sanitize"), n, WithClock(c), WithLogger(zerolog.Nop()))
	g.Attach(doc)
	defer g.Close()

	area := doc.NewTextArea()
	for i := 1; i <= len("My SSN is 123-45-6789"); i++ {
		doc.Type(area, "My SSN is 123-45-6789"[:i])
		c.Advance(50 * time.Millisecond)
	}
	// Last keystroke landed at 1000ms; the scan fires one second later.
	c.Advance(950 * time.Millisecond)
	require.NoError(t, g.Settle(context.Background()))

	mu.Lock()
	assert.Equal(t, []string{"My SSN is 123-45-6789"}, prompts)
	mu.Unlock()
	assert.Equal(t, "My SSN is [REDACTED]", area.Value())

	box := doc.GetElementByID(notify.ElementID)
	require.NotNil(t, box)
	assert.Equal(t, "TrustLayer: PII Redacted", box.InnerText())
	class, _ := box.Attribute("class")
	assert.Equal(t, "show", class)

	c.Advance(2999 * time.Millisecond)
	class, _ = box.Attribute("class")
	assert.Equal(t, "show", class)

	c.Advance(time.Millisecond)
	class, _ = box.Attribute("class")
	assert.Empty(t, class, "notification clears after 3000ms")
}

func TestGuard_SettleWaitsForRunningScan(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.san.fn = func(text string) (sanitizer.Result, error) {
		close(started)
		<-release
		return redactSSN(text)
	}
	area := f.doc.NewTextArea()
	f.doc.Type(area, "My SSN is 123-45-6789")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.guard.Settle(ctx), context.DeadlineExceeded, "armed timer keeps the guard busy")

	go f.clock.Advance(time.Second)
	<-started

	settled := make(chan error, 1)
	go func() { settled <- f.guard.Settle(context.Background()) }()
	select {
	case <-settled:
		t.Fatal("settled while the sanitizer call was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-settled)
	assert.Equal(t, "My SSN is [REDACTED]", area.Value())
}

type cancelAwareSanitizer struct {
	started chan struct{}
}

func (s *cancelAwareSanitizer) Sanitize(ctx context.Context, _ string) (sanitizer.Result, error) {
	close(s.started)
	<-ctx.Done()
	return sanitizer.Result{}, ctx.Err()
}

func TestGuard_CloseDuringScanIsNotAFailure(t *testing.T) {
	doc := memdom.NewDocument()
	c := clock.NewFake()
	san := &cancelAwareSanitizer{started: make(chan struct{})}
	notifier := &recordingNotifier{}
	g := New(san, notifier, WithClock(c), WithLogger(zerolog.Nop()))
	g.Attach(doc)

	area := doc.NewTextArea()
	doc.Type(area, "My SSN is 123-45-6789")

	fired := make(chan struct{})
	go func() {
		c.Advance(time.Second)
		close(fired)
	}()
	<-san.started

	g.Close()
	<-fired

	stats := g.Stats()
	assert.Equal(t, 1, stats.Scans)
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, "My SSN is 123-45-6789", area.Value())
	assert.Empty(t, notifier.Messages())
}

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustlayer/trustlayer-guard/internal/api"
	"github.com/trustlayer/trustlayer-guard/internal/redact"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func sanitizeServer(t *testing.T) *httptest.Server {
	t.Helper()
	pc, err := redact.DefaultPatternClassifier()
	require.NoError(t, err)
	srv := httptest.NewServer(api.New(redact.New(pc)).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func testWatchOptions(endpoint string) watchOptions {
	return watchOptions{
		endpoint:  endpoint,
		delay:     20 * time.Millisecond,
		minLength: 5,
		notifyFor: time.Minute,
		message:   "TrustLayer: PII Redacted",
	}
}

func TestRunWatch_RedactsLastLine(t *testing.T) {
	srv := sanitizeServer(t)
	var out bytes.Buffer
	notices := &syncBuffer{}

	in := strings.NewReader("My SSN\nMy SSN is 123-45-6789\n")
	err := runWatch(context.Background(), testWatchOptions(srv.URL+"/v1/sanitize"), in, &out, notices)
	require.NoError(t, err)

	assert.Equal(t, "My SSN is [US_SSN_1]\n", out.String())
	assert.Equal(t, "notify: TrustLayer: PII Redacted\nnotify: cleared\n", notices.String())
}

func TestRunWatch_EditableCleanText(t *testing.T) {
	srv := sanitizeServer(t)
	var out bytes.Buffer
	notices := &syncBuffer{}

	opts := testWatchOptions(srv.URL + "/v1/sanitize")
	opts.editable = true
	require.NoError(t, runWatch(context.Background(), opts, strings.NewReader("hello world\n"), &out, notices))

	assert.Equal(t, "hello world\n", out.String())
	assert.Empty(t, notices.String())
}

func TestRunWatch_ServiceDownKeepsText(t *testing.T) {
	srv := sanitizeServer(t)
	endpoint := srv.URL + "/v1/sanitize"
	srv.Close()

	var out bytes.Buffer
	err := runWatch(context.Background(), testWatchOptions(endpoint), strings.NewReader("My SSN is 123-45-6789\n"), &out, &syncBuffer{})
	require.NoError(t, err)
	assert.Equal(t, "My SSN is 123-45-6789\n", out.String())
}

func TestLineSurface(t *testing.T) {
	var buf bytes.Buffer
	s := &lineSurface{w: &buf}

	s.SetVisible(false)
	s.SetText("hi")
	s.SetVisible(true)
	s.SetVisible(false)
	assert.Equal(t, "notify: hi\nnotify: cleared\n", buf.String())
}

// Package sanitizer is the guard's client for the remote sanitization
// service. A call posts the raw text as a form field and returns the
// service's possibly-redacted version of it.
package sanitizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultEndpoint is the local TrustLayer service.
const DefaultEndpoint = "http://localhost:8000/v1/sanitize"

var (
	// ErrTransport wraps failures to reach the service or read its reply.
	ErrTransport = errors.New("sanitizer: transport failure")
	// ErrStatus is matched by every *StatusError.
	ErrStatus = errors.New("sanitizer: unexpected status")
	// ErrMalformed wraps replies without a usable sanitized_text field.
	ErrMalformed = errors.New("sanitizer: malformed response")
)

// StatusError reports a non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sanitizer: status %d", e.Code)
	}
	return fmt.Sprintf("sanitizer: status %d: %s", e.Code, e.Body)
}

// Is lets errors.Is(err, ErrStatus) match.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Result is a successful sanitize round trip.
type Result struct {
	Text      string         // sanitized text; equals the input when nothing was found
	RequestID string         // service request id, when reported
	Entities  map[string]int // entity type -> count, when reported
}

// Client calls the sanitize endpoint. It is safe for concurrent use.
type Client struct {
	url  string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The default client sets no
// overall timeout; requests end when the transport or the context ends them.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the given endpoint URL. An empty endpoint selects
// DefaultEndpoint.
func New(endpoint string, opts ...Option) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		url:  endpoint,
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string { return c.url }

type sanitizeResponse struct {
	SanitizedText    *string         `json:"sanitized_text"`
	RequestID        json.RawMessage `json:"request_id"`
	RedactedEntities json.RawMessage `json:"redacted_entities"`
}

// Sanitize sends text to the service. It never retries.
func (c *Client) Sanitize(ctx context.Context, text string) (Result, error) {
	form := url.Values{}
	form.Set("prompt", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("sanitizer: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}

	var out sanitizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %w", ErrMalformed, err)
	}
	if out.SanitizedText == nil {
		return Result{}, fmt.Errorf("%w: missing sanitized_text", ErrMalformed)
	}

	res := Result{Text: *out.SanitizedText}
	// Only sanitized_text is part of the contract; the extras are best effort.
	_ = json.Unmarshal(out.RequestID, &res.RequestID)
	_ = json.Unmarshal(out.RedactedEntities, &res.Entities)
	return res, nil
}

// snippet trims an error body for logging.
func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

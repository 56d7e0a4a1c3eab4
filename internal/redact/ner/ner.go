// Package ner provides a Classifier that calls the sanitize-ner sidecar
// over HTTP. If the sidecar is unreachable, it logs a warning and returns no
// spans so the rest of the redaction pipeline can still run.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustlayer/trustlayer-guard/internal/redact"
)

// labelMap translates sidecar labels to the entity names used in tokens.
var labelMap = map[string]string{
	"PER":    "PERSON",
	"PERSON": "PERSON",
	"LOC":    "LOCATION",
	"GPE":    "LOCATION",
	"ORG":    "ORGANIZATION",
}

// Client calls the NER sidecar's /classify endpoint.
type Client struct {
	url  string
	http *http.Client
}

// New creates a NER Client pointing at the given base URL
// (e.g. "http://sanitize-ner:8001").
func New(baseURL string) *Client {
	return &Client{
		url: strings.TrimRight(baseURL, "/") + "/classify",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Classify sends text to the NER sidecar and returns sensitive spans.
// It is safe for concurrent use.
func (c *Client) Classify(ctx context.Context, text string) ([]redact.Span, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("sanitize-ner: sidecar unreachable, skipping NER layer")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("code", resp.StatusCode).Msg("sanitize-ner: unexpected status")
		return nil, nil
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	spans := make([]redact.Span, 0, len(result.Spans))
	for _, s := range result.Spans {
		label := strings.ToUpper(s.Label)
		if mapped, ok := labelMap[label]; ok {
			label = mapped
		}
		spans = append(spans, redact.Span{
			Start: s.Start,
			End:   s.End,
			Label: label,
			Score: 1.0,
		})
	}
	return spans, nil
}

// Package llmclassifier provides a Classifier that uses a local
// OpenAI-compatible LLM (e.g. Ollama with qwen3:4b) to detect sensitive
// spans the regex and NER layers miss, like ad-hoc API keys and passwords.
//
// The model returns the sensitive strings verbatim rather than byte offsets;
// small models get offsets wrong. Occurrences are located in the text here.
package llmclassifier

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/trustlayer/trustlayer-guard/internal/redact"
)

// Label is the entity label attached to every span this classifier returns.
const Label = "SECRET"

const systemPrompt = `Extract sensitive data from the text. Return a JSON array of exact strings that are sensitive. Return [] if nothing sensitive found.

Sensitive data includes:
- API keys and tokens: strings starting with sk-, pk-, ghp_, Bearer, or any alphanumeric string that looks like a credential (e.g. sk123123123, sk-abc123, ghp_xyz789)
- Passwords and secrets mentioned explicitly
- Email addresses (e.g. user@example.com)
- Phone numbers (e.g. +15550100, 555-0199)
- Full person names with first+last (e.g. John Smith)
- Credit card numbers, IBANs, bank account numbers
- Private keys (long hex or base64 strings)

Do NOT flag: [LABEL_N] placeholders, city names alone, common words, dates, regular numbers.

Return ONLY a valid JSON array of the exact sensitive strings. No explanation.

Examples:
Input: "my api key is sk-abc123xyz789"
Output: ["sk-abc123xyz789"]

Input: "call me at +15550100, John Smith"
Output: ["+15550100", "John Smith"]

Input: "how are you?"
Output: []`

const maxTokens = 4096

// Classifier calls a local LLM to detect semantically sensitive values.
type Classifier struct {
	client *openai.Client
	model  string
}

// New creates a Classifier. baseURL is the Ollama (or any OpenAI-compatible)
// server root, e.g. "http://ollama:11434".
func New(baseURL, model string) *Classifier {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	cfg.HTTPClient = &http.Client{Timeout: 125 * time.Second}
	return &Classifier{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Classify sends text to the LLM and returns sensitive spans. An unreachable
// or misbehaving model yields no spans and no error.
// It is safe for concurrent use.
func (c *Classifier) Classify(ctx context.Context, text string) ([]redact.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	log.Debug().Str("model", c.model).Int("text_len", len(text)).Msg("llmclassifier: classifying")

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			// /no_think is Qwen3's control token to skip thinking.
			{Role: openai.ChatMessageRoleUser, Content: "Text to classify:\n" + text + "\n/no_think"},
		},
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("llmclassifier: LLM unreachable, skipping")
		return nil, nil
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		log.Warn().Msg("llmclassifier: response truncated by token limit")
	}

	values, ok := parseValues(choice.Message.Content)
	if !ok {
		log.Warn().Str("content", choice.Message.Content).Msg("llmclassifier: could not parse LLM output")
		return nil, nil
	}

	spans := locate(text, values)
	if len(spans) > 0 {
		log.Debug().Int("count", len(spans)).Int("values", len(values)).Msg("llmclassifier: detected sensitive spans")
	}
	return spans, nil
}

// parseValues digs the JSON array of strings out of a model reply.
func parseValues(raw string) ([]string, bool) {
	content := stripThinkBlock(strings.TrimSpace(raw))
	content = stripCodeFence(content)
	if !strings.HasPrefix(content, "[") {
		content = extractJSONArray(content)
	}
	var values []string
	if err := json.Unmarshal([]byte(content), &values); err != nil {
		return nil, false
	}
	return values, true
}

// locate returns a span for every occurrence of each value that is not
// part of a longer word.
func locate(text string, values []string) []redact.Span {
	var spans []redact.Span
	for _, val := range values {
		val = strings.TrimSpace(val)
		if val == "" || strings.HasPrefix(val, "[") {
			continue
		}
		start := 0
		for {
			idx := strings.Index(text[start:], val)
			if idx < 0 {
				break
			}
			abs := start + idx
			end := abs + len(val)
			start = end
			if isInsideToken(text, abs, end) {
				continue
			}
			spans = append(spans, redact.Span{Start: abs, End: end, Label: Label, Score: 1.0})
		}
	}
	return spans
}

// isInsideToken reports whether span [start,end) sits inside a larger word.
// For example "sd@example.org" inside "asd@example.org" returns true.
func isInsideToken(text string, start, end int) bool {
	if start > 0 && !isBoundary(text[start-1]) {
		return true
	}
	if end < len(text) && !isBoundary(text[end]) {
		return true
	}
	return false
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '<', '>', ',', ';', ':', '.', '!', '?', '(', ')', '[', ']', '{', '}', '"', '\'', '`':
		return true
	}
	return false
}

// extractJSONArray finds the first [...] substring in s.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// stripThinkBlock removes a <think>...</think> block that precedes the answer
// when the model's thinking mode is active.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		// Unclosed block: drop everything from <think> onwards.
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// Package upstream forwards sanitized prompts to an OpenAI-compatible chat
// API. A key starting with MockKeyPrefix answers locally without any network
// traffic, which is the default for development.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// MockKeyPrefix marks an API key that never leaves the process.
const MockKeyPrefix = "sk-mock"

const (
	completeTimeout = 30 * time.Second
	mockEchoRunes   = 50
)

// IsMockKey reports whether apiKey selects the local mock reply.
func IsMockKey(apiKey string) bool {
	return strings.HasPrefix(apiKey, MockKeyPrefix)
}

// Client sends one-shot chat completions upstream.
type Client struct {
	client *openai.Client // nil in mock mode
	model  string
}

// New creates a Client. baseURL is the API root including the version
// segment, e.g. "https://api.openai.com/v1".
func New(baseURL, apiKey, model string) *Client {
	if IsMockKey(apiKey) {
		return &Client{model: model}
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	// No client timeout: streams run as long as the request context allows.
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}
}

// Mock reports whether replies are generated locally.
func (c *Client) Mock() bool { return c.client == nil }

func (c *Client) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Stream:   stream,
	}
}

// Complete returns the assistant reply for prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.Mock() {
		return mockReply(prompt), nil
	}
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, false))
	if err != nil {
		return "", fmt.Errorf("upstream: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("upstream: response has no choices")
	}
	log.Debug().Str("model", resp.Model).Int("completion_tokens", resp.Usage.CompletionTokens).Msg("upstream: completion done")
	return resp.Choices[0].Message.Content, nil
}

// Stream calls emit with each content delta of the reply, in order. It stops
// at the first emit error and returns it.
func (c *Client) Stream(ctx context.Context, prompt string, emit func(string) error) error {
	if c.Mock() {
		for _, chunk := range strings.SplitAfter(mockReply(prompt), " ") {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(prompt, true))
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("upstream: stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

func mockReply(prompt string) string {
	echo := []rune(prompt)
	if len(echo) > mockEchoRunes {
		echo = echo[:mockEchoRunes]
	}
	return "Denied/Processed: This is a mocked response. Your safe input was: " + string(echo) + "..."
}

// Package api serves the local sanitize service the guard talks to, plus a
// chat endpoint that forwards sanitized prompts to an LLM.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustlayer/trustlayer-guard/internal/audit"
	"github.com/trustlayer/trustlayer-guard/internal/redact"
)

const (
	maxPromptBytes = 1 << 20
	maxUploadBytes = 10 << 20
	requestTimeout = 130 * time.Second

	// statusHeader is set on chat replies whose prompt was rewritten.
	statusHeader = "X-TrustLayer-Status"
)

var (
	errPromptRequired = errors.New("prompt is required")
	errNotText        = errors.New("file must be UTF-8 text")
)

// Redactor is the redaction engine behind /v1/sanitize.
type Redactor interface {
	Redact(ctx context.Context, text string) (redact.Result, error)
}

// AuditStore records and aggregates redaction counts.
type AuditStore interface {
	Record(ctx context.Context, requestID string, items map[string]int) error
	Stats(ctx context.Context) (map[string]int, error)
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// LLM answers sanitized prompts. Implemented by upstream.Client.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, emit func(string) error) error
}

// Handler implements all HTTP endpoints.
type Handler struct {
	redactor    Redactor
	audit       AuditStore // nil disables audit endpoints
	llm         LLM        // nil disables chat completions
	limiter     *RateLimiter
	corsOrigins []string
	newID       func() string
}

// Option configures a Handler.
type Option func(*Handler)

// WithAudit records every redaction in store and enables the audit endpoints.
func WithAudit(store AuditStore) Option {
	return func(h *Handler) { h.audit = store }
}

// WithLLM enables /v1/chat/completions.
func WithLLM(llm LLM) Option {
	return func(h *Handler) { h.llm = llm }
}

// WithRateLimiter limits /v1/sanitize and /v1/chat/completions per client
// address.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) { h.limiter = rl }
}

// WithCORSOrigins sets allowed CORS origins; ["*"] allows any.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) { h.corsOrigins = origins }
}

// New creates a Handler around the given redactor.
func New(r Redactor, opts ...Option) *Handler {
	h := &Handler{
		redactor:    r,
		corsOrigins: []string{"*"},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the chi router with middleware and every endpoint mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts middleware and routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(CORSMiddleware(h.corsOrigins))

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(h.limiter))
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/v1/sanitize", h.sanitize)
		r.Post("/v1/chat/completions", h.chatCompletions)
	})

	r.Get("/v1/audit/stats", h.auditStats)
	r.Get("/v1/audit/recent", h.auditRecent)
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type sanitizeResponse struct {
	RequestID        string         `json:"request_id"`
	SanitizedText    string         `json:"sanitized_text"`
	RedactedEntities map[string]int `json:"redacted_entities"`
	OriginalLength   int            `json:"original_length"`
	SanitizedLength  int            `json:"sanitized_length"`
}

func (h *Handler) sanitize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPromptBytes)
	// PostFormValue parses both urlencoded and multipart bodies.
	prompt := r.PostFormValue("prompt")
	if prompt == "" {
		writeErr(w, http.StatusBadRequest, errPromptRequired.Error())
		return
	}

	id, res, ok := h.redactAndRecord(w, r, prompt)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sanitizeResponse{
		RequestID:        id,
		SanitizedText:    res.Text,
		RedactedEntities: itemsOrEmpty(res),
		OriginalLength:   utf8.RuneCountInString(prompt),
		SanitizedLength:  utf8.RuneCountInString(res.Text),
	})
}

// redactAndRecord redacts prompt and audits the result under a fresh request
// id. On failure it writes the error response and returns ok=false.
func (h *Handler) redactAndRecord(w http.ResponseWriter, r *http.Request, prompt string) (id string, res redact.Result, ok bool) {
	res, err := h.redactor.Redact(r.Context(), prompt)
	if err != nil {
		if errors.Is(err, redact.ErrEmptyText) {
			writeErr(w, http.StatusBadRequest, errPromptRequired.Error())
			return "", res, false
		}
		log.Error().Err(err).Msg("sanitize: redaction failed")
		writeErr(w, http.StatusInternalServerError, "redaction failed")
		return "", res, false
	}

	id = h.newID()
	if res.Changed() {
		log.Info().Str("request_id", id).Int("count", res.Count()).Msg("sanitize: redacted entities")
		if h.audit != nil {
			if err := h.audit.Record(r.Context(), id, res.Items); err != nil {
				log.Warn().Err(err).Str("request_id", id).Msg("sanitize: audit record failed")
			}
		}
	}
	return id, res, true
}

type chatResponse struct {
	RequestID        string         `json:"request_id"`
	OriginalLength   int            `json:"original_length"`
	SanitizedLength  int            `json:"sanitized_length"`
	RedactedEntities map[string]int `json:"redacted_entities"`
	LLMResponse      string         `json:"llm_response"`
}

func (h *Handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeErr(w, http.StatusServiceUnavailable, "chat completions disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	prompt, err := readPrompt(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	id, res, ok := h.redactAndRecord(w, r, prompt)
	if !ok {
		return
	}
	stream, _ := strconv.ParseBool(r.PostFormValue("stream"))
	log.Info().Str("request_id", id).Bool("stream", stream).Int("prompt_len", len(res.Text)).Msg("chat completions")

	if stream {
		h.streamResponse(w, r, id, res)
		return
	}

	reply, err := h.llm.Complete(r.Context(), res.Text)
	if err != nil {
		log.Error().Err(err).Str("request_id", id).Msg("upstream error")
		writeErr(w, http.StatusBadGateway, "upstream error: "+err.Error())
		return
	}
	setStatusHeader(w, res)
	writeJSON(w, http.StatusOK, chatResponse{
		RequestID:        id,
		OriginalLength:   utf8.RuneCountInString(prompt),
		SanitizedLength:  utf8.RuneCountInString(res.Text),
		RedactedEntities: itemsOrEmpty(res),
		LLMResponse:      res.Restore(reply),
	})
}

// streamResponse relays the reply as server-sent events. SSE headers go out
// with the first chunk, so an upstream that fails before answering still
// gets a 502.
func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, id string, res redact.Result) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		log.Warn().Msg("response writer does not support flushing")
	}
	restorer := res.Restorer()
	started := false

	send := func(data string) error {
		if !started {
			setStatusHeader(w, res)
			w.Header().Set("X-TrustLayer-Request-Id", id)
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}
	sendContent := func(text string) error {
		if text == "" {
			return nil
		}
		b, err := json.Marshal(map[string]string{"content": text})
		if err != nil {
			return err
		}
		return send(string(b))
	}

	err := h.llm.Stream(r.Context(), res.Text, func(chunk string) error {
		return sendContent(restorer.Push(chunk))
	})
	if err != nil {
		if !started {
			log.Error().Err(err).Str("request_id", id).Msg("upstream stream error")
			writeErr(w, http.StatusBadGateway, "upstream error: "+err.Error())
			return
		}
		log.Error().Err(err).Str("request_id", id).Msg("stream aborted")
		return
	}
	if err := sendContent(restorer.Flush()); err != nil {
		log.Error().Err(err).Msg("client write error")
		return
	}
	if err := send("[DONE]"); err != nil {
		log.Error().Err(err).Msg("client write error")
	}
}

// readPrompt takes the "prompt" form field, or else the text of an uploaded
// "file".
func readPrompt(r *http.Request) (string, error) {
	// PostFormValue parses both urlencoded and multipart bodies.
	if prompt := r.PostFormValue("prompt"); prompt != "" {
		return prompt, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", errPromptRequired
		}
		return "", fmt.Errorf("read upload: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if !utf8.Valid(b) {
		return "", errNotText
	}
	return string(b), nil
}

func setStatusHeader(w http.ResponseWriter, res redact.Result) {
	if res.Changed() {
		w.Header().Set(statusHeader, "Sanitized")
	}
}

func itemsOrEmpty(res redact.Result) map[string]int {
	if res.Items == nil {
		return map[string]int{}
	}
	return res.Items
}

func (h *Handler) auditStats(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}
	stats, err := h.audit.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("audit: stats failed")
		writeErr(w, http.StatusInternalServerError, "audit stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

type auditEntry struct {
	RequestID  string    `json:"request_id"`
	EntityType string    `json:"entity_type"`
	Count      int       `json:"count"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *Handler) auditRecent(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeErr(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeErr(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("audit: recent failed")
		writeErr(w, http.StatusInternalServerError, "audit entries unavailable")
		return
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

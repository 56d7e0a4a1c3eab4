// Package redact is the redaction engine behind the local sanitize service.
// It detects sensitive data with classifier plugins (regex recognizers, the
// NER sidecar, a local LLM), replaces each occurrence with a stable
// placeholder such as [EMAIL_ADDRESS_1], and can restore the originals.
//
// Usage:
//
//	r := redact.New(classifiers...)
//	res, err := r.Redact(ctx, text)
//	// res.Text is safe to forward; res.Items counts entities per type
//	original := res.Restore(reply)
package redact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// ErrEmptyText is returned for empty or whitespace-only input.
var ErrEmptyText = errors.New("redact: empty text")

// classifierBudget is the maximum time we wait for all classifiers to finish.
// Classifiers that miss the deadline are skipped; their results are discarded.
// Set high enough to cover a small LLM running on CPU.
const classifierBudget = 120 * time.Second

// tokenPlaceholderRe matches our own [LABEL_N] markers so we never
// re-redact an already-replaced placeholder.
var tokenPlaceholderRe = regexp.MustCompile(`\[[A-Z][A-Z0-9_]*_\d+\]`)

// Machine identifiers are not sentences; long UUIDs and hashes skip analysis.
var (
	uuidRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	hashRe = regexp.MustCompile(`(?i)^[0-9a-f]{24,}$`)
)

// tokenMap holds the bidirectional mapping for one Redact call.
type tokenMap struct {
	toToken  map[tokenKey]string // (label, original value) -> [LABEL_N]
	counters map[string]int      // label -> last N
	mapping  map[string]string   // [LABEL_N] -> original value
	items    map[string]int      // label -> occurrences
}

type tokenKey struct {
	label, value string
}

func newTokenMap() *tokenMap {
	return &tokenMap{
		toToken:  make(map[tokenKey]string),
		counters: make(map[string]int),
		mapping:  make(map[string]string),
		items:    make(map[string]int),
	}
}

// register records one occurrence and returns its placeholder. A value
// repeated under the same label reuses the token it got first.
func (m *tokenMap) register(original, label string) string {
	m.items[label]++
	k := tokenKey{label: label, value: original}
	if tok, ok := m.toToken[k]; ok {
		return tok
	}
	m.counters[label]++
	tok := fmt.Sprintf("[%s_%d]", label, m.counters[label])
	m.toToken[k] = tok
	m.mapping[tok] = original
	return tok
}

// Result is the outcome of one Redact call.
type Result struct {
	Text    string            // redacted text
	Items   map[string]int    // entity type -> occurrences replaced
	Mapping map[string]string // placeholder -> original value
}

// Count returns the total number of replaced occurrences.
func (r Result) Count() int {
	n := 0
	for _, c := range r.Items {
		n += c
	}
	return n
}

// Changed reports whether anything was replaced.
func (r Result) Changed() bool { return len(r.Mapping) > 0 }

// Restore replaces every placeholder in text with its original value.
func (r Result) Restore(text string) string {
	if len(r.Mapping) == 0 {
		return text
	}
	pairs := make([]string, 0, len(r.Mapping)*2)
	for tok, orig := range r.Mapping {
		pairs = append(pairs, tok, orig)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Redactor is the top-level object created once at startup.
type Redactor struct {
	classifiers []Classifier
	budget      time.Duration
}

// New creates a Redactor with an ordered list of classifiers.
func New(classifiers ...Classifier) *Redactor {
	return &Redactor{classifiers: classifiers, budget: classifierBudget}
}

// Classifiers returns how many classifiers are configured.
func (r *Redactor) Classifiers() int { return len(r.classifiers) }

// runClassifiers runs all Classify calls concurrently and merges results.
// Returns after all classifiers finish or the budget elapses.
func (r *Redactor) runClassifiers(ctx context.Context, text string) []Span {
	if len(r.classifiers) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	ch := make(chan []Span, len(r.classifiers))
	for _, clf := range r.classifiers {
		go func(c Classifier) {
			spans, err := c.Classify(ctx, text)
			if err != nil {
				log.Warn().Err(err).Msg("redact: classifier error")
				ch <- nil
				return
			}
			ch <- spans
		}(clf)
	}

	var all []Span
	for range r.classifiers {
		select {
		case spans := <-ch:
			all = append(all, spans...)
		case <-ctx.Done():
			log.Warn().Msg("redact: classifier budget exceeded, using partial results")
			return all
		}
	}
	return all
}

// Redact runs all classifiers on text and replaces the detected spans.
func (r *Redactor) Redact(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	tm := newTokenMap()
	if isMachineID(text) {
		return Result{Text: text, Items: tm.items, Mapping: tm.mapping}, nil
	}

	spans := r.runClassifiers(ctx, text)
	spans = validSpans(text, spans)
	spans = selectSpans(spans)

	// Tokens are numbered in reading order, then applied back to front so
	// earlier offsets stay valid.
	tokens := make([]string, len(spans))
	for i, sp := range spans {
		tokens[i] = tm.register(text[sp.Start:sp.End], sp.Label)
	}
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		log.Debug().Str("label", sp.Label).Str("token", tokens[i]).Msg("redact: redacted")
		out = out[:sp.Start] + tokens[i] + out[sp.End:]
	}
	return Result{Text: out, Items: tm.items, Mapping: tm.mapping}, nil
}

func isMachineID(text string) bool {
	if utf8.RuneCountInString(text) <= 20 {
		return false
	}
	t := strings.TrimSpace(text)
	return uuidRe.MatchString(t) || hashRe.MatchString(t)
}

// wordBoundaryBytes are bytes that delimit tokens/words.
var wordBoundaryBytes = func() [256]bool {
	var t [256]bool
	for _, b := range []byte(" \t\n\r<>(),;:.!?[]{}\"'`") {
		t[b] = true
	}
	return t
}()

func isWordBoundaryByte(b byte) bool { return wordBoundaryBytes[b] }

// validSpans filters out spans with invalid offsets, spans overlapping
// placeholders, or spans that land in the middle of a larger word
// (partial NER matches).
func validSpans(text string, spans []Span) []Span {
	placeholders := tokenPlaceholderRe.FindAllStringIndex(text, -1)
	out := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		if !utf8.RuneStart(byteAt(text, sp.Start)) || !utf8.RuneStart(byteAt(text, sp.End)) {
			continue
		}
		if overlapsAny(sp, placeholders) {
			continue
		}
		// Reject partial word matches. If the character immediately before or
		// after the span is not a delimiter, it is a substring of a longer token.
		if sp.Start > 0 && !isWordBoundaryByte(text[sp.Start-1]) {
			continue
		}
		if sp.End < len(text) && !isWordBoundaryByte(text[sp.End]) {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// byteAt returns s[i], or a rune-start byte when i is at the end.
func byteAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

func overlapsAny(sp Span, ranges [][]int) bool {
	for _, r := range ranges {
		if sp.Start < r[1] && r[0] < sp.End {
			return true
		}
	}
	return false
}

// selectSpans keeps a non-overlapping subset ordered by Start. At equal
// starts the longer span wins, then the higher score.
func selectSpans(spans []Span) []Span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		if li, lj := spans[i].End-spans[i].Start, spans[j].End-spans[j].Start; li != lj {
			return li > lj
		}
		return spans[i].Score > spans[j].Score
	})
	out := make([]Span, 0, len(spans))
	lastEnd := -1
	for _, sp := range spans {
		if sp.Start >= lastEnd {
			out = append(out, sp)
			lastEnd = sp.End
		}
	}
	return out
}

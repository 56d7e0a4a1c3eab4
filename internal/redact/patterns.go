package redact

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/trustlayer/trustlayer-guard/internal/redact/patterns"
)

// RecognizerConfig is one regex recognizer as written in a pattern file.
type RecognizerConfig struct {
	Name    string  `yaml:"name"`
	Entity  string  `yaml:"entity"`
	Pattern string  `yaml:"pattern"`
	Score   float32 `yaml:"score,omitempty"` // defaults to 1.0
}

// RecognizerFile is the top-level layout of a pattern file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// ParseRecognizerFile decodes a YAML pattern file.
func ParseRecognizerFile(data []byte) (RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RecognizerFile{}, fmt.Errorf("redact: parse recognizers: %w", err)
	}
	return rf, nil
}

type recognizer struct {
	name   string
	entity string
	re     *regexp.Regexp
	score  float32
}

// PatternClassifier finds spans with compiled regular expressions.
type PatternClassifier struct {
	recognizers []recognizer
}

// NewPatternClassifier compiles recs. Every recognizer needs an entity and a
// valid pattern.
func NewPatternClassifier(recs []RecognizerConfig) (*PatternClassifier, error) {
	pc := &PatternClassifier{}
	for i, rc := range recs {
		if rc.Entity == "" {
			return nil, fmt.Errorf("redact: recognizer %d (%q) has no entity", i+1, rc.Name)
		}
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact: recognizer %q: %w", rc.Name, err)
		}
		score := rc.Score
		if score <= 0 {
			score = 1.0
		}
		pc.recognizers = append(pc.recognizers, recognizer{name: rc.Name, entity: rc.Entity, re: re, score: score})
	}
	return pc, nil
}

// DefaultPatternClassifier returns the classifier built from the embedded
// pattern file.
func DefaultPatternClassifier() (*PatternClassifier, error) {
	rf, err := ParseRecognizerFile(patterns.PIIYAML())
	if err != nil {
		return nil, err
	}
	return NewPatternClassifier(rf.Recognizers)
}

// LoadPatternFile builds a classifier from a YAML file on disk.
func LoadPatternFile(path string) (*PatternClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("redact: reading %s: %w", path, err)
	}
	rf, err := ParseRecognizerFile(data)
	if err != nil {
		return nil, err
	}
	return NewPatternClassifier(rf.Recognizers)
}

// Len returns the number of recognizers.
func (p *PatternClassifier) Len() int { return len(p.recognizers) }

// Classify implements Classifier.
func (p *PatternClassifier) Classify(ctx context.Context, text string) ([]Span, error) {
	var spans []Span
	for _, r := range p.recognizers {
		if err := ctx.Err(); err != nil {
			return spans, err
		}
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{Start: loc[0], End: loc[1], Label: r.entity, Score: r.score})
		}
	}
	return spans, nil
}

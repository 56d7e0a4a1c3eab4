// Package config resolves runtime settings for the trustlayer command.
//
// Values come from, in order of precedence: TRUSTLAYER_* environment
// variables (a .env file in the working directory is loaded first), the
// optional YAML config file, and the defaults below.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/trustlayer/trustlayer-guard/internal/upstream"
)

// EnvPrefix is prepended to every key to form its environment variable
// (e.g. "debounce_ms" -> TRUSTLAYER_DEBOUNCE_MS).
const EnvPrefix = "TRUSTLAYER"

// Viper keys. Each is also the YAML field name in the config file.
const (
	KeySanitizeURL   = "sanitize_url"
	KeyDebounceMS    = "debounce_ms"
	KeyMinLength     = "min_length"
	KeyNotifyMS      = "notify_ms"
	KeyNotifyMessage = "notify_message"
	KeyListenAddr    = "listen_addr"
	KeyDataDir       = "data_dir"
	KeyPatternsFile  = "patterns_file"
	KeyNEREnabled    = "ner_enabled"
	KeyNERURL        = "ner_url"
	KeyLLMEnabled    = "llm_enabled"
	KeyLLMURL        = "llm_url"
	KeyLLMModel      = "llm_model"
	KeyRateLimitRPM  = "rate_limit_rpm"
	KeyCORSOrigins   = "cors_origins"
	KeyUpstreamURL   = "upstream_url"
	KeyUpstreamKey   = "upstream_api_key"
	KeyUpstreamModel = "upstream_model"
)

const (
	DefaultSanitizeURL   = "http://localhost:8000/v1/sanitize"
	DefaultDebounceMS    = 1000
	DefaultMinLength     = 5
	DefaultNotifyMS      = 3000
	DefaultNotifyMessage = "TrustLayer: PII Redacted"
	DefaultListenAddr    = "localhost:8000"
	DefaultNERURL        = "http://localhost:8001"
	DefaultLLMURL        = "http://localhost:11434"
	DefaultLLMModel      = "qwen3:4b"
	DefaultRateLimitRPM  = 120
	DefaultUpstreamURL   = "https://api.openai.com/v1"
	DefaultUpstreamKey   = upstream.MockKeyPrefix
	DefaultUpstreamModel = "gpt-3.5-turbo"
)

// Config holds resolved settings.
type Config struct {
	// Guard
	SanitizeURL   string
	Debounce      time.Duration
	MinLength     int
	NotifyFor     time.Duration
	NotifyMessage string

	// Local sanitize service
	ListenAddr   string
	DataDir      string
	PatternsFile string // empty = embedded recognizers
	NEREnabled   bool
	NERURL       string
	LLMEnabled   bool
	LLMURL       string
	LLMModel     string
	RateLimitRPM int // 0 disables rate limiting
	CORSOrigins  []string

	// Chat forwarding
	UpstreamURL   string
	UpstreamKey   string // "sk-mock..." answers locally
	UpstreamModel string
}

func init() {
	SetDefaults(viper.GetViper())
}

// SetDefaults registers the env prefix and every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeySanitizeURL, DefaultSanitizeURL)
	v.SetDefault(KeyDebounceMS, DefaultDebounceMS)
	v.SetDefault(KeyMinLength, DefaultMinLength)
	v.SetDefault(KeyNotifyMS, DefaultNotifyMS)
	v.SetDefault(KeyNotifyMessage, DefaultNotifyMessage)
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyNERURL, DefaultNERURL)
	v.SetDefault(KeyLLMURL, DefaultLLMURL)
	v.SetDefault(KeyLLMModel, DefaultLLMModel)
	v.SetDefault(KeyRateLimitRPM, DefaultRateLimitRPM)
	v.SetDefault(KeyCORSOrigins, []string{"*"})
	v.SetDefault(KeyUpstreamURL, DefaultUpstreamURL)
	v.SetDefault(KeyUpstreamKey, DefaultUpstreamKey)
	v.SetDefault(KeyUpstreamModel, DefaultUpstreamModel)
}

// Load reads .env (if present), then resolves every key through the global
// viper instance and returns a validated Config.
func Load() (*Config, error) {
	// Best-effort: a missing .env is fine.
	_ = godotenv.Load()
	return FromViper(viper.GetViper())
}

// FromViper builds a validated Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		SanitizeURL:   strings.TrimSpace(v.GetString(KeySanitizeURL)),
		Debounce:      time.Duration(v.GetInt(KeyDebounceMS)) * time.Millisecond,
		MinLength:     v.GetInt(KeyMinLength),
		NotifyFor:     time.Duration(v.GetInt(KeyNotifyMS)) * time.Millisecond,
		NotifyMessage: v.GetString(KeyNotifyMessage),
		ListenAddr:    strings.TrimSpace(v.GetString(KeyListenAddr)),
		DataDir:       resolveDataDir(v),
		PatternsFile:  strings.TrimSpace(v.GetString(KeyPatternsFile)),
		NEREnabled:    v.GetBool(KeyNEREnabled),
		NERURL:        strings.TrimRight(strings.TrimSpace(v.GetString(KeyNERURL)), "/"),
		LLMEnabled:    v.GetBool(KeyLLMEnabled),
		LLMURL:        strings.TrimRight(strings.TrimSpace(v.GetString(KeyLLMURL)), "/"),
		LLMModel:      strings.TrimSpace(v.GetString(KeyLLMModel)),
		RateLimitRPM:  v.GetInt(KeyRateLimitRPM),
		CORSOrigins:   splitList(v.GetStringSlice(KeyCORSOrigins)),
		UpstreamURL:   strings.TrimRight(strings.TrimSpace(v.GetString(KeyUpstreamURL)), "/"),
		UpstreamKey:   strings.TrimSpace(v.GetString(KeyUpstreamKey)),
		UpstreamModel: strings.TrimSpace(v.GetString(KeyUpstreamModel)),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// AuditDBPath returns the path of the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// UpstreamMock reports whether chat completions are answered locally.
func (c *Config) UpstreamMock() bool {
	return upstream.IsMockKey(c.UpstreamKey)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func resolveDataDir(v *viper.Viper) string {
	if dir := strings.TrimSpace(v.GetString(KeyDataDir)); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustlayer"
	}
	return filepath.Join(home, ".trustlayer")
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	if err := validateURL(KeySanitizeURL, c.SanitizeURL); err != nil {
		return err
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("%s must be positive", KeyDebounceMS)
	}
	if c.NotifyFor <= 0 {
		return fmt.Errorf("%s must be positive", KeyNotifyMS)
	}
	if c.MinLength < 1 {
		return fmt.Errorf("%s must be at least 1", KeyMinLength)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%s must not be empty", KeyListenAddr)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("%s must not be negative", KeyRateLimitRPM)
	}
	if c.NEREnabled {
		if err := validateURL(KeyNERURL, c.NERURL); err != nil {
			return err
		}
	}
	if c.LLMEnabled {
		if err := validateURL(KeyLLMURL, c.LLMURL); err != nil {
			return err
		}
		if c.LLMModel == "" {
			return fmt.Errorf("%s must be set when %s is true", KeyLLMModel, KeyLLMEnabled)
		}
	}
	if !c.UpstreamMock() {
		if err := validateURL(KeyUpstreamURL, c.UpstreamURL); err != nil {
			return err
		}
		if c.UpstreamKey == "" {
			return fmt.Errorf("%s must not be empty", KeyUpstreamKey)
		}
		if c.UpstreamModel == "" {
			return fmt.Errorf("%s must not be empty", KeyUpstreamModel)
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustlayer/trustlayer-guard/internal/api"
	"github.com/trustlayer/trustlayer-guard/internal/audit"
	"github.com/trustlayer/trustlayer-guard/internal/config"
	"github.com/trustlayer/trustlayer-guard/internal/redact"
	"github.com/trustlayer/trustlayer-guard/internal/redact/llmclassifier"
	"github.com/trustlayer/trustlayer-guard/internal/redact/ner"
	"github.com/trustlayer/trustlayer-guard/internal/upstream"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local sanitize and chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default "+config.DefaultListenAddr+")")
	cmd.Flags().String("data-dir", "", "directory for the audit database (default ~/.trustlayer)")
	cmd.Flags().String("patterns", "", "YAML recognizer file replacing the built-in patterns")
	cmd.Flags().Bool("ner", false, "enable the NER sidecar classifier")
	cmd.Flags().Bool("llm", false, "enable the LLM classifier")

	_ = viper.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag(config.KeyDataDir, cmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag(config.KeyPatternsFile, cmd.Flags().Lookup("patterns"))
	_ = viper.BindPFlag(config.KeyNEREnabled, cmd.Flags().Lookup("ner"))
	_ = viper.BindPFlag(config.KeyLLMEnabled, cmd.Flags().Lookup("llm"))
	return cmd
}

// buildRedactor assembles the classifier layers enabled in cfg.
func buildRedactor(cfg *config.Config) (*redact.Redactor, error) {
	var (
		patterns *redact.PatternClassifier
		err      error
	)
	if cfg.PatternsFile != "" {
		patterns, err = redact.LoadPatternFile(cfg.PatternsFile)
	} else {
		patterns, err = redact.DefaultPatternClassifier()
	}
	if err != nil {
		return nil, err
	}
	classifiers := []redact.Classifier{patterns}
	log.Info().Int("recognizers", patterns.Len()).Str("file", cfg.PatternsFile).Msg("sanitize: pattern layer enabled")

	if cfg.NEREnabled {
		classifiers = append(classifiers, ner.New(cfg.NERURL))
		log.Info().Str("url", cfg.NERURL).Msg("sanitize: NER layer enabled")
	}
	if cfg.LLMEnabled {
		classifiers = append(classifiers, llmclassifier.New(cfg.LLMURL, cfg.LLMModel))
		log.Info().Str("url", cfg.LLMURL).Str("model", cfg.LLMModel).Msg("sanitize: LLM layer enabled")
	}
	return redact.New(classifiers...), nil
}

// buildUpstream returns the chat forwarder for /v1/chat/completions.
func buildUpstream(cfg *config.Config) *upstream.Client {
	c := upstream.New(cfg.UpstreamURL, cfg.UpstreamKey, cfg.UpstreamModel)
	if c.Mock() {
		log.Info().Msg("chat: mock upstream, replies never leave this machine")
	} else {
		log.Info().Str("url", cfg.UpstreamURL).Str("model", cfg.UpstreamModel).Msg("chat: forwarding to upstream")
	}
	return c
}

func runServe(ctx context.Context, cfg *config.Config) error {
	redactor, err := buildRedactor(cfg)
	if err != nil {
		return err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	store, err := audit.Open(cfg.AuditDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []api.Option{
		api.WithAudit(store),
		api.WithLLM(buildUpstream(cfg)),
		api.WithCORSOrigins(cfg.CORSOrigins),
	}
	if cfg.RateLimitRPM > 0 {
		opts = append(opts, api.WithRateLimiter(api.NewRateLimiter(0, cfg.RateLimitRPM)))
	}
	handler := api.New(redactor, opts...)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Int("classifiers", redactor.Classifiers()).
			Str("audit_db", cfg.AuditDBPath()).
			Msg("starting trustlayer service")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

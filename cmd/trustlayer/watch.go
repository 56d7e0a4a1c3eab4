package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trustlayer/trustlayer-guard/internal/config"
	"github.com/trustlayer/trustlayer-guard/internal/dom"
	"github.com/trustlayer/trustlayer-guard/internal/dom/memdom"
	"github.com/trustlayer/trustlayer-guard/internal/guard"
	"github.com/trustlayer/trustlayer-guard/internal/notify"
	"github.com/trustlayer/trustlayer-guard/internal/sanitizer"
)

type watchOptions struct {
	endpoint  string
	delay     time.Duration
	minLength int
	notifyFor time.Duration
	message   string
	editable  bool
}

func newWatchCmd() *cobra.Command {
	var editable bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the guard over a headless text field fed from stdin",
		Long: `Each line read from stdin replaces the content of one monitored field, as if
the user had typed it. Redaction notices go to stderr; at end of input the
final field text is printed to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), watchOptions{
				endpoint:  cfg.SanitizeURL,
				delay:     cfg.Debounce,
				minLength: cfg.MinLength,
				notifyFor: cfg.NotifyFor,
				message:   cfg.NotifyMessage,
				editable:  editable,
			}, cmd.InOrStdin(), cmd.OutOrStdout(), os.Stderr)
		},
	}
	cmd.Flags().BoolVar(&editable, "editable", false, "monitor a contenteditable region instead of a textarea")
	return cmd
}

// lineSurface prints notification changes as lines.
type lineSurface struct {
	mu      sync.Mutex
	w       io.Writer
	text    string
	visible bool
}

func (s *lineSurface) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *lineSurface) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case visible:
		fmt.Fprintf(s.w, "notify: %s\n", s.text)
	case s.visible:
		fmt.Fprintln(s.w, "notify: cleared")
	}
	s.visible = visible
}

func runWatch(ctx context.Context, opts watchOptions, in io.Reader, out, notices io.Writer) error {
	doc := memdom.NewDocument()
	var field *memdom.Element
	if opts.editable {
		field = doc.NewEditable()
	} else {
		field = doc.NewTextArea()
	}

	notifier := notify.New(
		func() notify.Surface { return &lineSurface{w: notices} },
		notify.WithDuration(opts.notifyFor),
	)
	client := sanitizer.New(opts.endpoint)
	g := guard.New(client, notifier,
		guard.WithDelay(opts.delay),
		guard.WithMinLength(opts.minLength),
		guard.WithMessage(opts.message),
	)
	g.Attach(doc)
	defer g.Close()
	log.Debug().Str("endpoint", client.Endpoint()).Dur("delay", opts.delay).Msg("watching input")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		doc.Type(field, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("watch: read input: %w", err)
	}

	if err := g.Settle(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	_, err := fmt.Fprintln(out, dom.ReadText(field))
	return err
}

//go:build js && wasm

// Command guard-wasm is the content script build of the guard:
//
//	GOOS=js GOARCH=wasm go build -ldflags "-X main.endpoint=http://localhost:8000/v1/sanitize" ./cmd/guard-wasm
package main

import (
	"os"
	"syscall/js"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustlayer/trustlayer-guard/internal/dom/jsdom"
	"github.com/trustlayer/trustlayer-guard/internal/guard"
	"github.com/trustlayer/trustlayer-guard/internal/notify"
	"github.com/trustlayer/trustlayer-guard/internal/sanitizer"
)

// endpoint may be overridden at link time.
var endpoint = sanitizer.DefaultEndpoint

func main() {
	// The wasm runtime routes stderr to the browser console.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	doc := jsdom.Current()
	notifier := notify.New(func() notify.Surface { return doc.NotificationSurface(notify.ElementID) })
	client := sanitizer.New(endpoint)
	g := guard.New(client, notifier)
	g.Attach(doc)

	done := make(chan struct{})
	var onHide js.Func
	onHide = js.FuncOf(func(this js.Value, args []js.Value) any {
		js.Global().Call("removeEventListener", "pagehide", onHide)
		g.Close()
		close(done)
		return nil
	})
	js.Global().Call("addEventListener", "pagehide", onHide)

	log.Info().Str("endpoint", client.Endpoint()).Msg("trustlayer guard active")
	<-done
	onHide.Release()
}

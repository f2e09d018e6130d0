//go:build js && wasm

// Command pageloader is the page loader runtime compiled to WebAssembly.
// It binds the loading placeholder and the embedded game frame by id and
// swaps them once the frame has loaded.
//
// pagebuild does not compile Go itself. A site publishes the runtime through
// its external build step, whose output is copied under the publish path:
//
//	external:
//	  command: [env, GOOS=js, GOARCH=wasm, go, build, -o, build/pageloader.wasm, ./cmd/pageloader]
//	  output: build/pageloader.wasm
//	  publish_as: pageloader.wasm
//
// An entry script then instantiates /pageloader.wasm with wasm_exec.js.
package main

import (
	"log/slog"
	"syscall/js"
	"time"

	"github.com/roach88/pagebuild/internal/loader"
)

// domElement adapts a DOM element to loader.Element.
type domElement struct {
	v js.Value
}

func (e domElement) SetClass(class string) {
	e.v.Set("className", class)
}

func (e domElement) OnLoad(fn func()) {
	cb := js.FuncOf(func(js.Value, []js.Value) any {
		fn()
		return nil
	})
	e.v.Call("addEventListener", "load", cb)
}

func main() {
	logger := slog.Default()
	doc := js.Global().Get("document")

	placeholder := doc.Call("getElementById", loader.DefaultPlaceholderID)
	content := doc.Call("getElementById", loader.DefaultContentID)
	if placeholder.IsNull() || content.IsNull() {
		logger.Error("loader elements not found",
			"placeholder", loader.DefaultPlaceholderID,
			"content", loader.DefaultContentID)
		return
	}

	loader.New(domElement{placeholder}, domElement{content}, loader.Config{
		StallTimeout: 30 * time.Second,
		Logger:       logger,
	})

	// Callbacks need the Go runtime alive.
	select {}
}

// Package loader implements the page loader runtime: the switch from a
// loading placeholder to an embedded document once that document has
// finished loading.
//
// The runtime is a two-state machine. It starts Loading and moves to Ready
// exactly once, when the embedded element reports that it loaded. The
// transition hides the placeholder first and then reveals the content, so
// there is no frame where both are visible. Later readiness signals are
// no-ops. There is no path back to Loading.
package loader

import (
	"log/slog"
	"sync"
	"time"
)

// State is the loader state.
type State int

const (
	Loading State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Default element ids and classes of the hosting page.
const (
	DefaultPlaceholderID    = "pacman-game-loading"
	DefaultContentID        = "pacman-game"
	DefaultContentClass     = "PacmanGame"
	DefaultPlaceholderClass = "PacmanGameLoading hide"
)

// Element is the part of a DOM element the runtime needs.
type Element interface {
	// SetClass replaces the element's class list.
	SetClass(class string)

	// OnLoad registers fn to run when the element finishes loading.
	OnLoad(fn func())
}

// Config controls the visual mutations and the stall warning.
type Config struct {
	// ContentClass is applied to the content element when it is ready.
	ContentClass string

	// PlaceholderClass is applied to the placeholder to hide it.
	PlaceholderClass string

	// StallTimeout, when positive, logs a warning if the content has not
	// loaded in time. The state is not changed.
	StallTimeout time.Duration

	// OnStall is called after the stall warning is logged.
	OnStall func()

	Logger *slog.Logger
}

// Runtime drives one placeholder and one content element.
//
// Thread-safety: safe for concurrent use.
type Runtime struct {
	mu          sync.Mutex
	state       State
	placeholder Element
	content     Element
	cfg         Config
	stall       *time.Timer
}

// New binds the runtime to its elements and registers the readiness
// callback on content.
func New(placeholder, content Element, cfg Config) *Runtime {
	if cfg.ContentClass == "" {
		cfg.ContentClass = DefaultContentClass
	}
	if cfg.PlaceholderClass == "" {
		cfg.PlaceholderClass = DefaultPlaceholderClass
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Runtime{state: Loading, placeholder: placeholder, content: content, cfg: cfg}
	if cfg.StallTimeout > 0 {
		r.stall = time.AfterFunc(cfg.StallTimeout, r.stalled)
	}
	content.OnLoad(func() { r.MarkReady() })
	return r
}

// State returns the current state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkReady performs the Loading to Ready transition. It reports whether
// this call made the transition; every call after the first is a no-op.
func (r *Runtime) MarkReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Ready {
		return false
	}
	r.state = Ready
	if r.stall != nil {
		r.stall.Stop()
	}

	// Hide first, then reveal.
	r.placeholder.SetClass(r.cfg.PlaceholderClass)
	r.content.SetClass(r.cfg.ContentClass)
	r.cfg.Logger.Debug("content ready")
	return true
}

// Stop cancels the stall timer.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stall != nil {
		r.stall.Stop()
	}
}

func (r *Runtime) stalled() {
	r.mu.Lock()
	waiting := r.state == Loading
	r.mu.Unlock()
	if !waiting {
		return
	}
	r.cfg.Logger.Warn("embedded content has not finished loading", "after", r.cfg.StallTimeout)
	if r.cfg.OnStall != nil {
		r.cfg.OnStall()
	}
}

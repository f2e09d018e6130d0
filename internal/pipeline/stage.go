package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/pagebuild/internal/ir"
)

// Kind is the content type flowing between stages.
type Kind string

const (
	KindRaw    Kind = "raw"
	KindJS     Kind = "js"
	KindCSS    Kind = "css"
	KindSCSS   Kind = "scss"
	KindBinary Kind = "binary"
	KindURL    Kind = "url"
)

// Artifact is one asset as it moves through a chain.
type Artifact struct {
	// Path is slash-separated and relative to the source directory.
	Path string

	Kind     Kind
	Contents []byte

	// URL is the reference other assets use (KindURL only).
	URL string

	// Emit is the publish-relative path of an emitted file. Empty when the
	// asset was inlined.
	Emit string
}

// Ext returns the lower-cased extension of the artifact path.
func (a Artifact) Ext() string {
	return strings.ToLower(path.Ext(a.Path))
}

// Stage is a single named transform.
//
// Transform must depend only on its input artifact; stages never observe
// other assets.
type Stage interface {
	Name() string
	Input() Kind
	Output() Kind
	Transform(ctx context.Context, in Artifact) (Artifact, error)
}

// StageFunc adapts a function into a Stage.
type StageFunc struct {
	StageName string
	In        Kind
	Out       Kind
	Fn        func(ctx context.Context, in Artifact) (Artifact, error)
}

func (s StageFunc) Name() string { return s.StageName }
func (s StageFunc) Input() Kind  { return s.In }
func (s StageFunc) Output() Kind { return s.Out }
func (s StageFunc) Transform(ctx context.Context, in Artifact) (Artifact, error) {
	return s.Fn(ctx, in)
}

// Factory builds a configured stage.
type Factory func(opts Options) (Stage, error)

// Registry maps stage names to factories.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice replaces the factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether a stage name is known.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the stage described by spec.
func (r *Registry) Build(spec ir.StageSpec) (Stage, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", spec.Name)
	}
	stage, err := f(Options(spec.Options))
	if err != nil {
		return nil, fmt.Errorf("configuring stage %q: %w", spec.Name, err)
	}
	return stage, nil
}

// Options are the free-form stage options from the build definition.
type Options map[string]any

// String returns a string option or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns an integer option or def. Numbers decoded from CUE, YAML or
// JSON arrive as int, int64 or float64.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("option %q: %v is not an integer", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %q: expected integer, got %T", key, v)
	}
}

// Strings returns a list-of-strings option or def.
func (o Options) Strings(key string, def []string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("option %q[%d]: expected string, got %T", key, i, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %q: expected list, got %T", key, v)
	}
}

// Package bundle links transformed modules into one script per entry point
// and aggregates the stylesheets those modules import.
//
// The bundler never touches a filesystem. Every module is served from the
// artifacts produced by the rule table, so what is bundled is exactly what
// the stage chains emitted.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
)

// esbuild namespaces used by the resolver plugin.
const (
	nsModule = "module"
	nsStyle  = "style"
	nsURL    = "url"
)

// Bundle is the linked script for one entry point.
type Bundle struct {
	Entry string

	// Filename is the publish-relative name: <entry>.js in dev,
	// <entry>.<hash8>.js in prod.
	Filename string

	Contents []byte

	// Styles are the stylesheet artifact paths the entry imports,
	// transitively, in first-import order.
	Styles []string
}

// HasStyles reports whether the entry contributes to the stylesheet.
func (b *Bundle) HasStyles() bool {
	return len(b.Styles) > 0
}

// Error reports an entry that could not be bundled.
type Error struct {
	Entry string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bundling entry %q: %v", e.Entry, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bundler links entries against a fixed set of artifacts.
type Bundler struct {
	artifacts map[string]pipeline.Artifact
	mode      string
	target    api.Target
}

// New creates a bundler. artifacts is keyed by source-relative path.
func New(artifacts map[string]pipeline.Artifact, mode string) *Bundler {
	return &Bundler{artifacts: artifacts, mode: mode, target: api.ES2015}
}

// BundleAll bundles every entry in declaration order.
func (b *Bundler) BundleAll(entries []ir.EntryPoint) ([]*Bundle, error) {
	out := make([]*Bundle, 0, len(entries))
	for _, e := range entries {
		bundle, err := b.Bundle(e)
		if err != nil {
			return nil, err
		}
		out = append(out, bundle)
	}
	return out, nil
}

// Bundle links a single entry point.
func (b *Bundler) Bundle(entry ir.EntryPoint) (*Bundle, error) {
	source := path.Clean(entry.Source)
	if a, ok := b.artifacts[source]; !ok || a.Kind != pipeline.KindJS {
		return nil, &Error{Entry: entry.Name, Err: fmt.Errorf("entry source %q is not a transformed script", entry.Source)}
	}

	prod := b.mode == ir.ModeProd
	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{source},
		Bundle:            true,
		Write:             false,
		Outfile:           entry.Name + ".js",
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            b.target,
		MinifyWhitespace:  prod,
		MinifyIdentifiers: prod,
		MinifySyntax:      prod,
		Metafile:          true,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{b.plugin()},
	})
	if len(result.Errors) > 0 {
		return nil, &Error{Entry: entry.Name, Err: buildMessages(result.Errors)}
	}

	var contents []byte
	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".js") {
			contents = f.Contents
			break
		}
	}
	if contents == nil {
		return nil, &Error{Entry: entry.Name, Err: errors.New("bundler produced no script")}
	}

	styles, err := styleOrder(result.Metafile, source)
	if err != nil {
		return nil, &Error{Entry: entry.Name, Err: err}
	}

	filename := entry.Name + ".js"
	if prod {
		filename = entry.Name + "." + ir.Fingerprint(contents) + ".js"
	}
	return &Bundle{Entry: entry.Name, Filename: filename, Contents: contents, Styles: styles}, nil
}

func (b *Bundler) plugin() api.Plugin {
	return api.Plugin{
		Name: "artifacts",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				importer := ""
				if args.Kind != api.ResolveEntryPoint {
					importer = args.Importer
				}
				resolved, ns, err := b.resolve(importer, args.Path)
				if err != nil {
					return api.OnResolveResult{}, err
				}
				return api.OnResolveResult{Path: resolved, Namespace: ns}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsModule}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				contents := string(b.artifacts[args.Path].Contents)
				return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
			})
			// Styles are aggregated separately; in the script they are empty modules.
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsStyle}, func(api.OnLoadArgs) (api.OnLoadResult, error) {
				empty := ""
				return api.OnLoadResult{Contents: &empty, Loader: api.LoaderJS}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: nsURL}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				ref := b.artifacts[args.Path].URL
				return api.OnLoadResult{Contents: &ref, Loader: api.LoaderText}, nil
			})
		},
	}
}

// resolve maps an import specifier to an artifact path and namespace.
// importer is empty for the entry point itself.
func (b *Bundler) resolve(importer, spec string) (string, string, error) {
	var base string
	switch {
	case importer == "":
		base = path.Clean(spec)
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		base = path.Join(path.Dir(importer), spec)
	case strings.HasPrefix(spec, "/"):
		base = path.Clean(strings.TrimPrefix(spec, "/"))
	default:
		return "", "", fmt.Errorf("bare import %q is not supported", spec)
	}

	for _, candidate := range []string{base, base + ".js", path.Join(base, "index.js")} {
		a, ok := b.artifacts[candidate]
		if !ok {
			continue
		}
		switch a.Kind {
		case pipeline.KindJS:
			return candidate, nsModule, nil
		case pipeline.KindCSS:
			return candidate, nsStyle, nil
		case pipeline.KindURL:
			return candidate, nsURL, nil
		default:
			return "", "", fmt.Errorf("%q resolved to %s artifact %q which cannot be imported", spec, a.Kind, candidate)
		}
	}
	if importer == "" {
		return "", "", fmt.Errorf("cannot resolve entry %q", spec)
	}
	return "", "", fmt.Errorf("cannot resolve %q from %s", spec, importer)
}

// metafile is the part of esbuild's metafile the style walk reads. Imports
// are listed in source order; paths carry their namespace as "ns:path".
type metafile struct {
	Inputs map[string]struct {
		Imports []struct {
			Path string `json:"path"`
		} `json:"imports"`
	} `json:"inputs"`
}

// styleOrder walks the module graph esbuild parsed, depth-first in source
// order, and collects stylesheet imports.
func styleOrder(raw, entry string) ([]string, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("reading bundle metafile: %w", err)
	}

	var styles []string
	seenStyle := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		for _, imp := range meta.Inputs[key].Imports {
			ns, p, ok := strings.Cut(imp.Path, ":")
			if !ok {
				continue
			}
			switch ns {
			case nsStyle:
				if !seenStyle[p] {
					seenStyle[p] = true
					styles = append(styles, p)
				}
			case nsModule:
				visit(imp.Path)
			}
		}
	}
	visit(nsModule + ":" + entry)
	return styles, nil
}

func buildMessages(msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return errors.New(strings.Join(parts, "; "))
}

// Package build orchestrates one build invocation.
//
// Phases run strictly in order:
//
//  1. rule table construction (chain contracts checked once)
//  2. the external toolchain step, blocking
//  3. categorization and transformation of every source asset
//  4. bundling and stylesheet aggregation
//  5. page emission
//  6. a single write of every output file
//
// Phases 1-5 work in memory only. A failure in any of them leaves the
// publish path untouched.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/page"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/publish"
	"github.com/roach88/pagebuild/internal/stages"
)

// Options configure a build.
type Options struct {
	Mode string

	// Project is the project root. The source directory and, unless
	// Publish is set, the publish directory are resolved inside it.
	Project billy.Filesystem

	// ProjectDir is the on-disk project root the toolchain runs in.
	ProjectDir string

	// Publish overrides the publish filesystem.
	Publish billy.Filesystem

	Registry  *pipeline.Registry
	Toolchain pipeline.Toolchain

	// Concurrency bounds the asset workers; values below 1 mean 1.
	Concurrency int

	// LiveReload injects the dev server client into every page.
	LiveReload bool

	Logger *slog.Logger
}

// Result describes a successful build.
type Result struct {
	Mode           string
	DefinitionHash string
	External       *pipeline.ExitStatus
	Bundles        []*bundle.Bundle
	Stylesheet     *bundle.Stylesheet
	Pages          []*page.Document
	Files          []publish.WrittenFile
	Duration       time.Duration
}

// Run executes def. It returns the files written, or an error with nothing
// written unless the error is a *publish.WriteError.
func Run(ctx context.Context, def *ir.BuildDef, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ir.ModeDev
	}
	if !ir.ValidModes[opts.Mode] {
		return nil, fmt.Errorf("invalid mode %q", opts.Mode)
	}
	if opts.Project == nil {
		return nil, errors.New("no project filesystem")
	}
	reg := opts.Registry
	if reg == nil {
		reg = stages.DefaultRegistry()
	}
	tc := opts.Toolchain
	if tc == nil {
		tc = pipeline.CommandToolchain{}
	}

	def.Normalize()
	defHash, err := ir.DefinitionHash(def)
	if err != nil {
		return nil, err
	}
	logger = logger.With("mode", opts.Mode, "definition", defHash[:ir.FingerprintLen])

	table, err := pipeline.CompileRules(withPublicPath(def.Rules, def.Assets.PublicPath), reg)
	if err != nil {
		return nil, err
	}

	source, err := opts.Project.Chroot(def.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("opening source directory %q: %w", def.SourceDir, err)
	}
	publishFS := opts.Publish
	if publishFS == nil {
		if publishFS, err = opts.Project.Chroot(def.PublishDir); err != nil {
			return nil, fmt.Errorf("opening publish directory %q: %w", def.PublishDir, err)
		}
	}

	result := &Result{Mode: opts.Mode, DefinitionHash: defHash}
	var out []publish.File

	// The toolchain finishes before any asset is looked at.
	if def.External != nil {
		status, file, err := runExternal(ctx, tc, *def.External, opts, logger)
		if err != nil {
			return nil, err
		}
		result.External = &status
		out = append(out, file)
	}

	templates := make(map[string]bool, len(def.Pages))
	for _, p := range def.Pages {
		templates[path.Clean(p.Template)] = true
	}
	assets, err := readAssets(source, templates)
	if err != nil {
		return nil, err
	}
	logger.Debug("transforming assets", "count", len(assets), "concurrency", opts.Concurrency)

	processed, err := transformAll(ctx, table, assets, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	artifacts := make(map[string]pipeline.Artifact, len(processed))
	for _, p := range processed {
		artifacts[p.artifact.Path] = p.artifact
		switch {
		case !p.matched || p.artifact.Kind == pipeline.KindRaw:
			out = append(out, publish.File{Path: path.Join(def.Assets.Dir, p.artifact.Path), Contents: p.artifact.Contents})
		case p.artifact.Kind == pipeline.KindURL && p.artifact.Emit != "":
			out = append(out, publish.File{Path: p.artifact.Emit, Contents: p.artifact.Contents})
		}
	}

	bundles, err := bundle.New(artifacts, opts.Mode).BundleAll(def.Entries)
	if err != nil {
		return nil, err
	}
	for _, b := range bundles {
		out = append(out, publish.File{Path: b.Filename, Contents: b.Contents})
	}
	result.Bundles = bundles

	sheet, err := bundle.Aggregate(bundles, artifacts, def.Stylesheet, opts.Mode)
	if err != nil {
		return nil, err
	}
	if sheet != nil {
		out = append(out, publish.File{Path: sheet.Filename, Contents: sheet.Contents})
	}
	result.Stylesheet = sheet

	emitter := &page.Emitter{
		Source:     source,
		Mode:       opts.Mode,
		PublicPath: def.Assets.PublicPath,
		LiveReload: opts.LiveReload,
	}
	for _, spec := range def.Pages {
		doc, err := emitter.Emit(spec, bundles, sheet)
		if err != nil {
			return nil, err
		}
		out = append(out, publish.File{Path: doc.Filename, Contents: doc.Contents})
		result.Pages = append(result.Pages, doc)
	}

	written, err := publish.Write(publishFS, out)
	result.Files = written
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	logger.Info("build complete", "files", len(written), "duration", result.Duration)
	return result, nil
}

// withPublicPath hands the asset public path to url stages that do not set
// their own.
func withPublicPath(rules []ir.RuleSpec, publicPath string) []ir.RuleSpec {
	out := make([]ir.RuleSpec, len(rules))
	for i, r := range rules {
		r.Stages = append([]ir.StageSpec(nil), r.Stages...)
		for j, s := range r.Stages {
			if s.Name != stages.URL {
				continue
			}
			if _, ok := s.Options["public_path"]; ok {
				continue
			}
			opts := make(map[string]any, len(s.Options)+1)
			for k, v := range s.Options {
				opts[k] = v
			}
			opts["public_path"] = publicPath
			r.Stages[j].Options = opts
		}
		out[i] = r
	}
	return out
}

func runExternal(ctx context.Context, tc pipeline.Toolchain, step ir.ExternalBuildStep, opts Options, logger *slog.Logger) (pipeline.ExitStatus, publish.File, error) {
	status, err := pipeline.RunExternalBuild(ctx, tc, step, opts.ProjectDir, logger)
	if err != nil {
		return status, publish.File{}, err
	}
	if step.Output == "" {
		return status, publish.File{}, &pipeline.ExternalToolchainError{
			Command: step.Command,
			Message: "has no configured output",
		}
	}
	data, err := util.ReadFile(opts.Project, step.Output)
	if err != nil {
		msg := fmt.Sprintf("exited with status 0 but %s could not be read", step.Output)
		if errors.Is(err, os.ErrNotExist) {
			msg = fmt.Sprintf("exited with status 0 but did not write %s", step.Output)
		}
		return status, publish.File{}, &pipeline.ExternalToolchainError{Command: step.Command, Message: msg, Err: err}
	}
	name := step.PublishAs
	if name == "" {
		name = path.Base(step.Output)
	}
	return status, publish.File{Path: name, Contents: data}, nil
}

// readAssets loads every file under fs except page templates, in sorted
// path order.
func readAssets(fs billy.Filesystem, skip map[string]bool) ([]pipeline.Artifact, error) {
	var assets []pipeline.Artifact
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fs.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			rel := e.Name()
			if dir != "" {
				rel = path.Join(dir, e.Name())
			}
			if e.IsDir() {
				if err := walk(rel); err != nil {
					return err
				}
				continue
			}
			if skip[rel] {
				continue
			}
			data, err := util.ReadFile(fs, rel)
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			assets = append(assets, pipeline.Artifact{Path: rel, Contents: data})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return assets, nil
}

type processedAsset struct {
	artifact pipeline.Artifact
	matched  bool
}

// transformAll runs every asset's chain on a bounded worker group. A stage
// failure does not stop sibling assets; all failures are returned together.
func transformAll(ctx context.Context, table *pipeline.RuleTable, assets []pipeline.Artifact, concurrency int) ([]processedAsset, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]processedAsset, len(assets))

	var mu sync.Mutex
	var failures []error

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, a := range assets {
		g.Go(func() error {
			out, matched, err := table.Process(ctx, a)
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return nil
			}
			results[i] = processedAsset{artifact: out, matched: matched}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Error() < failures[j].Error() })
		return nil, errors.Join(failures...)
	}
	return results, nil
}

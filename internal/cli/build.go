package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/roach88/pagebuild/internal/build"
	"github.com/roach88/pagebuild/internal/compiler"
	"github.com/roach88/pagebuild/internal/devserver"
	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/store"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Config          string
	Mode            string
	PublishPath     string
	ExternalCommand string
	Concurrency     int
	Database        string
	Addr            string

	// Once builds a single time in dev mode instead of serving.
	Once bool

	// Toolchain overrides the external process runner (for testing).
	// If nil, defaults to pipeline.CommandToolchain.
	Toolchain pipeline.Toolchain

	// IDGenerator overrides build IDs in the history store (for testing).
	// If nil, defaults to store.UUIDv7Generator.
	IDGenerator store.IDGenerator
}

// BuildSummary is the success payload of the build command.
type BuildSummary struct {
	BuildID        string        `json:"build_id,omitempty"`
	Mode           string        `json:"mode"`
	DefinitionHash string        `json:"definition_hash"`
	PublishPath    string        `json:"publish_path"`
	Files          []FileSummary `json:"files"`
	DurationMS     int64         `json:"duration_ms"`
}

// FileSummary is one written file.
type FileSummary struct {
	Path string `json:"path"`
	Size int    `json:"size"`
	Hash string `json:"hash"`
}

func (s BuildSummary) String() string {
	return fmt.Sprintf("✓ built %d file(s) into %s (%s, %dms)", len(s.Files), s.PublishPath, s.Mode, s.DurationMS)
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project into its publish path",
		Long: `Run one build from the project's build definition.

The external toolchain step runs first and must succeed. Every source asset
is then transformed by the first rule whose pattern matches it, each entry
point is bundled, pages are emitted, and all outputs are written to the
publish path together. If any step fails nothing is written.

In dev mode the build is followed by a development server that serves the
publish path, rebuilds on source changes and reloads open pages.

Example:
  pagebuild build --mode prod
  pagebuild build --config site/build.cue --db ./builds.db
  pagebuild build --external-build-command "gopherjs build -o dist/pacman.js"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "build definition file (default: build.cue, build.yaml or build.yml)")
	cmd.Flags().StringVar(&opts.Mode, "mode", ir.ModeDev, "build mode (dev|prod)")
	cmd.Flags().StringVar(&opts.PublishPath, "publish-path", "", "override the definition's publish path")
	cmd.Flags().StringVar(&opts.ExternalCommand, "external-build-command", "", "override the external toolchain command line")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "maximum assets transformed at once")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the build in this SQLite history database")
	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8080", "dev server listen address")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "in dev mode, build once and exit instead of serving")

	return cmd
}

// buildPlan is everything resolved from flags and the definition before
// the first build.
type buildPlan struct {
	def        *ir.BuildDef
	projectDir string
	publishDir string
	project    billy.Filesystem
	publish    billy.Filesystem
	history    *store.Store
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	if !ir.ValidModes[opts.Mode] {
		return outputBuildError(formatter, ErrCodeGeneric, ExitCommandError,
			fmt.Errorf("invalid mode %q: must be %q or %q", opts.Mode, ir.ModeDev, ir.ModeProd), nil)
	}

	plan, err := opts.plan()
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputBuildError(formatter, loadErr.Code, ExitCommandError, err, nil)
		}
		return outputBuildError(formatter, ErrCodeInvalid, ExitCommandError, err, nil)
	}
	if opts.Database != "" {
		var storeOpts []store.Option
		if opts.IDGenerator != nil {
			storeOpts = append(storeOpts, store.WithIDGenerator(opts.IDGenerator))
		}
		plan.history, err = store.Open(opts.Database, storeOpts...)
		if err != nil {
			return outputBuildError(formatter, ErrCodeDatabase, ExitCommandError, err, nil)
		}
		defer func() {
			if closeErr := plan.history.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serve := opts.Mode == ir.ModeDev && !opts.Once
	summary, err := opts.buildOnce(ctx, plan, serve, logger)
	if err != nil {
		code, exit := ClassifyBuildError(err)
		return outputBuildError(formatter, code, exit, err, buildErrorDetails(err))
	}
	if err := formatter.Success(summary); err != nil {
		return err
	}
	for _, f := range summary.Files {
		formatter.VerboseLog("  %s (%d bytes)", f.Path, f.Size)
	}
	if !serve {
		return nil
	}

	srv := &devserver.Server{
		Addr:       opts.Addr,
		PublishDir: plan.publishDir,
		WatchDir:   filepath.Join(plan.projectDir, plan.def.SourceDir),
		Logger:     logger,
		Rebuild: func(ctx context.Context) error {
			_, err := opts.buildOnce(ctx, plan, true, logger)
			return err
		},
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitCommandError, "dev server failed", err)
	}
	logger.Info("dev server stopped")
	return nil
}

// plan loads and validates the definition and applies flag overrides.
func (opts *BuildOptions) plan() (*buildPlan, error) {
	loaded, err := resolveDefinition(opts.Config)
	if err != nil {
		return nil, err
	}
	def := loaded.Definition

	if opts.ExternalCommand != "" {
		argv, err := shlex.Split(opts.ExternalCommand)
		if err != nil {
			return nil, fmt.Errorf("parsing --external-build-command: %w", err)
		}
		if def.External == nil {
			return nil, errors.New("--external-build-command needs an external step with an output in the definition")
		}
		def.External.Command = argv
	}

	if errs := compiler.Validate(def, nil); len(errs) > 0 {
		return nil, compiler.Err(errs)
	}
	def.Normalize()

	plan := &buildPlan{
		def:        def,
		projectDir: loaded.ProjectDir,
		project:    osfs.New(loaded.ProjectDir),
		publishDir: filepath.Join(loaded.ProjectDir, def.PublishDir),
	}
	if opts.PublishPath != "" {
		abs, err := filepath.Abs(opts.PublishPath)
		if err != nil {
			return nil, err
		}
		plan.publishDir = abs
		plan.publish = osfs.New(abs)
	}
	return plan, nil
}

// buildOnce runs one build and records it when a history store is open.
func (opts *BuildOptions) buildOnce(ctx context.Context, plan *buildPlan, liveReload bool, logger *slog.Logger) (BuildSummary, error) {
	summary := BuildSummary{Mode: opts.Mode, PublishPath: plan.publishDir}
	hash, err := ir.DefinitionHash(plan.def)
	if err != nil {
		return summary, err
	}
	summary.DefinitionHash = hash

	if plan.history != nil {
		if summary.BuildID, err = plan.history.BeginBuild(ctx, opts.Mode, hash); err != nil {
			return summary, err
		}
		logger = logger.With("build", summary.BuildID)
	}

	start := time.Now()
	result, buildErr := build.Run(ctx, plan.def, build.Options{
		Mode:        opts.Mode,
		Project:     plan.project,
		ProjectDir:  plan.projectDir,
		Publish:     plan.publish,
		Toolchain:   opts.Toolchain,
		Concurrency: opts.Concurrency,
		LiveReload:  liveReload,
		Logger:      logger,
	})
	summary.DurationMS = time.Since(start).Milliseconds()

	outcome := store.Outcome{Err: buildErr}
	if result != nil {
		for _, f := range result.Files {
			summary.Files = append(summary.Files, FileSummary{Path: f.Path, Size: f.Size, Hash: f.Hash})
			outcome.Files = append(outcome.Files, store.File{Path: f.Path, Size: int64(f.Size), ContentHash: f.Hash})
		}
		if result.External != nil {
			code := result.External.Code
			outcome.ExternalExitCode = &code
		}
	}
	var toolErr *pipeline.ExternalToolchainError
	if errors.As(buildErr, &toolErr) && toolErr.ExitCode >= 0 {
		code := toolErr.ExitCode
		outcome.ExternalExitCode = &code
	}

	if plan.history != nil {
		// Recorded even when the build's own context was cancelled.
		if err := plan.history.FinishBuild(context.WithoutCancel(ctx), summary.BuildID, outcome); err != nil {
			logger.Error("recording build failed", "error", err)
		}
	}
	return summary, buildErr
}

// buildErrorDetails exposes the toolchain's stderr for failed external steps.
func buildErrorDetails(err error) interface{} {
	var toolErr *pipeline.ExternalToolchainError
	if errors.As(err, &toolErr) && toolErr.Stderr != "" {
		return map[string]interface{}{
			"exit_code": toolErr.ExitCode,
			"stderr":    toolErr.Stderr,
		}
	}
	return nil
}

func outputBuildError(formatter *OutputFormatter, code string, exit int, err error, details interface{}) error {
	_ = formatter.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

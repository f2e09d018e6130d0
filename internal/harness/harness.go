package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/pagebuild/internal/build"
	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/compiler"
	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/page"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/publish"
	"github.com/roach88/pagebuild/internal/store"
	"github.com/roach88/pagebuild/internal/testutil"
)

// Harness runs scenarios against a history store with a deterministic
// clock and build IDs.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory project and database.
//
// Execution flow:
//  1. Write the scenario files into an in-memory project
//  2. Decode and validate the definition
//  3. Build with a fake external toolchain and record the build
//  4. Compare the outcome and evaluate assertions on the published tree
//
// The returned error reports a broken harness or scenario, never a build
// failure; those are part of the result.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequenceIDGenerator("")),
		store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h.run(context.Background(), scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	project := memfs.New()
	if err := writeFiles(project, scenario.Files); err != nil {
		return nil, fmt.Errorf("failed to write project files: %w", err)
	}

	result := NewResult()
	mode := scenario.Mode
	if mode == "" {
		mode = ir.ModeDev
	}

	def, err := compiler.DecodeYAML(strings.NewReader(scenario.Definition))
	if err == nil {
		err = compiler.Err(compiler.Validate(def, nil))
	}
	if err != nil {
		result.Err = err
		result.ErrorKind = KindInvalid
		h.checkOutcome(scenario, result)
		return result, nil
	}

	fake := &testutil.FakeToolchain{FS: project}
	if ext := scenario.External; ext != nil {
		fake.Code = ext.Code
		fake.Stderr = ext.Stderr
		fake.Outputs = ext.Outputs
	}

	def.Normalize()
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return nil, err
	}
	id, err := h.store.BeginBuild(ctx, mode, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to record build start: %w", err)
	}

	res, buildErr := build.Run(ctx, def, build.Options{
		Mode:        mode,
		Project:     project,
		Toolchain:   fake,
		Concurrency: 4,
		LiveReload:  scenario.LiveReload,
		Logger:      h.logger,
	})

	outcome := store.Outcome{Err: buildErr}
	if res != nil {
		for _, f := range res.Files {
			outcome.Files = append(outcome.Files, store.File{Path: f.Path, Size: int64(f.Size), ContentHash: f.Hash})
		}
		if res.External != nil {
			code := res.External.Code
			outcome.ExternalExitCode = &code
		}
	}
	var toolErr *pipeline.ExternalToolchainError
	if errors.As(buildErr, &toolErr) && toolErr.ExitCode >= 0 {
		code := toolErr.ExitCode
		outcome.ExternalExitCode = &code
	}
	if err := h.store.FinishBuild(ctx, id, outcome); err != nil {
		return nil, fmt.Errorf("failed to record build finish: %w", err)
	}
	if result.Build, err = h.store.GetBuild(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to read build record: %w", err)
	}

	result.Err = buildErr
	result.ErrorKind = ErrorKind(buildErr)
	result.ToolchainCalls = fake.Calls()
	if result.Files, err = readTree(project, def.PublishDir); err != nil {
		return nil, fmt.Errorf("failed to read published tree: %w", err)
	}

	h.checkOutcome(scenario, result)
	for _, msg := range EvaluateAssertions(result.Files, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// checkOutcome compares the error kind and message with the expectation.
func (h *Harness) checkOutcome(scenario *Scenario, result *Result) {
	want := scenario.Expect
	if result.ErrorKind != want.Error {
		msg := fmt.Sprintf("expected outcome %s, got %s", want.Error, result.ErrorKind)
		if result.Err != nil {
			msg += ": " + result.Err.Error()
		}
		result.AddError(msg)
		return
	}
	if want.Message != "" && !strings.Contains(result.Err.Error(), want.Message) {
		result.AddError(fmt.Sprintf("expected error containing %q, got %q", want.Message, result.Err.Error()))
	}
}

// ErrorKind names the kind of a build error. The first match wins, so a
// joined error of stage failures is a stage error.
func ErrorKind(err error) string {
	if err == nil {
		return KindNone
	}
	var (
		chainErr    *pipeline.ChainContractError
		toolErr     *pipeline.ExternalToolchainError
		templateErr *page.TemplateNotFoundError
		entryErr    *page.UnresolvedEntryPointError
		bundleErr   *bundle.Error
		writeErr    *publish.WriteError
	)
	switch {
	case errors.As(err, &chainErr):
		return KindChainContract
	case errors.As(err, &toolErr):
		return KindExternalToolchain
	case pipeline.IsStageError(err):
		return KindStage
	case errors.As(err, &templateErr):
		return KindTemplateNotFound
	case errors.As(err, &entryErr):
		return KindUnresolvedEntry
	case errors.As(err, &bundleErr):
		return KindBundle
	case errors.As(err, &writeErr):
		return KindWrite
	}
	return KindOther
}

func writeFiles(fs billy.Filesystem, files map[string]string) error {
	for name, contents := range files {
		if dir := path.Dir(name); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := util.WriteFile(fs, name, []byte(contents), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// readTree returns every file under dir. A missing dir yields an empty map.
func readTree(fs billy.Filesystem, dir string) (map[string]string, error) {
	out := make(map[string]string)
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := fs.ReadDir(path.Join(dir, rel))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			child := path.Join(rel, e.Name())
			if e.IsDir() {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			data, err := util.ReadFile(fs, path.Join(dir, child))
			if err != nil {
				return err
			}
			out[child] = string(data)
		}
		return nil
	}
	return out, walk("")
}

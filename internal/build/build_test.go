package build

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/page"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/stages"
	"github.com/roach88/pagebuild/internal/testutil"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"

func projectFiles() map[string]string {
	return map[string]string{
		"src/index.html":       "<html><head><title>{{ .Title }}</title></head><body></body></html>",
		"src/app.html":         "<html><head><title>{{ .Title }}</title></head><body><iframe></iframe></body></html>",
		"src/index.js":         "import './styles/main.scss';\nimport { greet } from './lib/greet';\nconsole.log(greet('index'));\n",
		"src/app.js":           "const run = () => console.log('app');\nrun();\n",
		"src/lib/greet.js":     "export const greet = (name) => `hello ${name}`;\n",
		"src/styles/main.scss": "$w: 10px;\n.game {\n  width: $w;\n  user-select: none;\n  background: url(../images/logo.png);\n}\n",
		"src/images/logo.png":  pngHeader,
		"src/fonts/pac.woff":   "woff",
	}
}

func definition() *ir.BuildDef {
	return &ir.BuildDef{
		Entries: []ir.EntryPoint{
			{Name: "index", Source: "index.js"},
			{Name: "app", Source: "app.js"},
		},
		Rules: []ir.RuleSpec{
			{Test: `\.js$`, Stages: []ir.StageSpec{{Name: stages.Transpile}}},
			{Test: `\.scss$`, Stages: []ir.StageSpec{{Name: stages.Preprocess}, {Name: stages.Prefix}}},
			{Test: `\.css$`, Stages: []ir.StageSpec{{Name: stages.Prefix}}},
			{Test: `\.(png|jpg|svg)$`, Stages: []ir.StageSpec{{Name: stages.URL, Options: map[string]any{"limit": 0}}}},
		},
		Pages: []ir.PageSpec{
			{Template: "index.html", Title: "Pacman"},
			{Template: "app.html", Title: "Pacman", Filename: "pacman.html", Exclude: []string{"index"}},
		},
	}
}

func run(t *testing.T, def *ir.BuildDef, opts Options) (*Result, map[string]string, error) {
	t.Helper()
	if opts.Project == nil {
		opts.Project = testutil.NewProject(t, projectFiles())
	}
	res, err := Run(context.Background(), def, opts)
	return res, testutil.ReadTree(t, opts.Project, "dist"), err
}

func TestRunDevEndToEnd(t *testing.T) {
	res, out, err := run(t, definition(), Options{Mode: ir.ModeDev})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"app.js",
		"assets/fonts/pac.woff",
		"images/logo.png",
		"index.html",
		"index.js",
		"pacman.html",
		"styles.css",
	}, testutil.SortedKeys(out))

	// The first page references both bundles, the second only app's.
	assert.Contains(t, out["index.html"], `src="/index.js"`)
	assert.Contains(t, out["index.html"], `src="/app.js"`)
	assert.Contains(t, out["index.html"], `href="/styles.css"`)
	assert.NotContains(t, out["pacman.html"], "index.js")
	assert.Contains(t, out["pacman.html"], `src="/app.js"`)
	assert.NotContains(t, out["pacman.html"], "styles.css")
	assert.Equal(t, []string{"index", "app"}, res.Pages[0].Entries)
	assert.Equal(t, []string{"app"}, res.Pages[1].Entries)

	assert.Contains(t, out["index.js"], "hello ")
	assert.Contains(t, out["app.js"], "console.log(\"app\")")
	assert.Equal(t, "woff", out["assets/fonts/pac.woff"])
	assert.Equal(t, pngHeader, out["images/logo.png"])

	assert.Contains(t, out["styles.css"], "width: 10px;")
	assert.Contains(t, out["styles.css"], "-webkit-user-select: none;")
	assert.Contains(t, out["styles.css"], `url("/images/logo.png")`)
	assert.NotContains(t, out["styles.css"], "$w")

	assert.NotContains(t, out, "assets/index.html")
	assert.Len(t, res.Files, 7)
	assert.NotEmpty(t, res.DefinitionHash)
}

func TestRunProdFingerprintsAndMinifies(t *testing.T) {
	res, out, err := run(t, definition(), Options{Mode: ir.ModeProd})
	require.NoError(t, err)

	index := res.Bundles[0]
	assert.Equal(t, "index."+ir.Fingerprint(index.Contents)+".js", index.Filename)
	assert.Contains(t, out, index.Filename)
	assert.Contains(t, out, res.Stylesheet.Filename)
	assert.NotEqual(t, "styles.css", res.Stylesheet.Filename)
	assert.Contains(t, out["index.html"], index.Filename)
	assert.Contains(t, out["index.html"], res.Stylesheet.Filename)
	assert.NotContains(t, out[res.Stylesheet.Filename], "\n  ")
}

func TestRunConcurrencyDoesNotChangeOutput(t *testing.T) {
	_, serial, err := run(t, definition(), Options{Mode: ir.ModeProd, Concurrency: 1})
	require.NoError(t, err)
	_, parallel, err := run(t, definition(), Options{Mode: ir.ModeProd, Concurrency: 8})
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
}

func TestRunExternalToolchainFailureWritesNothing(t *testing.T) {
	def := definition()
	def.External = &ir.ExternalBuildStep{Command: []string{"gopherjs", "build"}, Output: "dist/pacman.js"}

	project := testutil.NewProject(t, projectFiles())
	tc := &testutil.FakeToolchain{FS: project, Code: 2, Stderr: "compile error"}
	_, out, err := run(t, def, Options{Project: project, Toolchain: tc})

	var te *pipeline.ExternalToolchainError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.ExitCode)
	assert.Equal(t, 1, tc.Calls())
	assert.Empty(t, out)
}

func TestRunExternalToolchainBeforeAssets(t *testing.T) {
	def := definition()
	def.External = &ir.ExternalBuildStep{Command: []string{"gopherjs"}, Output: "build/pacman.js"}

	var hookDone, sawAssetBeforeHook atomic.Bool
	reg := stages.DefaultRegistry()
	reg.Register("probe", func(pipeline.Options) (pipeline.Stage, error) {
		return pipeline.StageFunc{StageName: "probe", In: pipeline.KindRaw, Out: pipeline.KindRaw,
			Fn: func(_ context.Context, a pipeline.Artifact) (pipeline.Artifact, error) {
				if !hookDone.Load() {
					sawAssetBeforeHook.Store(true)
				}
				return a, nil
			}}, nil
	})
	def.Rules = append([]ir.RuleSpec{{Test: `\.woff$`, Stages: []ir.StageSpec{{Name: "probe"}}}}, def.Rules...)

	project := testutil.NewProject(t, projectFiles())
	tc := &testutil.FakeToolchain{
		FS:      project,
		Outputs: map[string]string{"build/pacman.js": "var game;"},
		OnRun:   func() { hookDone.Store(true) },
	}
	res, out, err := run(t, def, Options{Project: project, Toolchain: tc, Registry: reg, Concurrency: 4})
	require.NoError(t, err)
	assert.False(t, sawAssetBeforeHook.Load())
	assert.Equal(t, 0, res.External.Code)
	assert.Equal(t, "var game;", out["pacman.js"])
	assert.Equal(t, "woff", out["assets/fonts/pac.woff"])
}

func TestRunExternalToolchainMissingOutput(t *testing.T) {
	def := definition()
	def.External = &ir.ExternalBuildStep{Command: []string{"gopherjs"}, Output: "build/pacman.js", PublishAs: "game.js"}

	project := testutil.NewProject(t, projectFiles())
	_, out, err := run(t, def, Options{Project: project, Toolchain: &testutil.FakeToolchain{FS: project}})
	var te *pipeline.ExternalToolchainError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "did not write build/pacman.js")
	assert.Empty(t, out)
}

func TestRunStageErrorProcessesSiblingsAndWritesNothing(t *testing.T) {
	files := projectFiles()
	files["src/styles/broken.scss"] = ".a { color: $nope; }"
	files["src/styles/also-broken.scss"] = ".b { color: red;"

	var processed atomic.Int32
	reg := stages.DefaultRegistry()
	reg.Register("count", func(pipeline.Options) (pipeline.Stage, error) {
		return pipeline.StageFunc{StageName: "count", In: pipeline.KindJS, Out: pipeline.KindJS,
			Fn: func(_ context.Context, a pipeline.Artifact) (pipeline.Artifact, error) {
				processed.Add(1)
				return a, nil
			}}, nil
	})
	def := definition()
	def.Rules[0].Stages = append(def.Rules[0].Stages, ir.StageSpec{Name: "count"})

	_, out, err := run(t, def, Options{Project: testutil.NewProject(t, files), Registry: reg})
	require.Error(t, err)
	assert.True(t, pipeline.IsStageError(err))
	assert.Contains(t, err.Error(), "styles/broken.scss")
	assert.Contains(t, err.Error(), "styles/also-broken.scss")
	assert.Equal(t, int32(3), processed.Load())
	assert.Empty(t, out)
}

func TestRunConfigurationErrorsWriteNothing(t *testing.T) {
	missingTemplate := definition()
	missingTemplate.Pages[1].Template = "gone.html"
	_, out, err := run(t, missingTemplate, Options{})
	var tnf *page.TemplateNotFoundError
	require.True(t, errors.As(err, &tnf))
	assert.Empty(t, out)

	unknownEntry := definition()
	unknownEntry.Pages[1].Exclude = []string{"ghost"}
	_, out, err = run(t, unknownEntry, Options{})
	var ue *page.UnresolvedEntryPointError
	require.True(t, errors.As(err, &ue))
	assert.Empty(t, out)

	swapped := definition()
	swapped.Rules[1].Stages = []ir.StageSpec{{Name: stages.Prefix}, {Name: stages.Preprocess}}
	_, out, err = run(t, swapped, Options{})
	var ce *pipeline.ChainContractError
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, out)

	badEntry := definition()
	badEntry.Entries[1].Source = "missing.js"
	_, out, err = run(t, badEntry, Options{})
	var be *bundle.Error
	require.True(t, errors.As(err, &be))
	assert.Empty(t, out)
}

func TestRunLiveReloadAndPublishOverride(t *testing.T) {
	publish := memfs.New()
	_, _, err := run(t, definition(), Options{Mode: ir.ModeDev, LiveReload: true, Publish: publish})
	require.NoError(t, err)

	out := testutil.ReadTree(t, publish, "")
	assert.Contains(t, out["index.html"], page.LiveReloadPath)
	assert.True(t, strings.HasPrefix(out["index.html"], "<html>"))
}

func TestRunRejectsInvalidMode(t *testing.T) {
	_, _, err := run(t, definition(), Options{Mode: "staging"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestWithPublicPath(t *testing.T) {
	rules := []ir.RuleSpec{{Test: "x", Stages: []ir.StageSpec{
		{Name: stages.URL},
		{Name: stages.URL, Options: map[string]any{"public_path": "/cdn/"}},
	}}}
	out := withPublicPath(rules, "/static/")
	assert.Equal(t, "/static/", out[0].Stages[0].Options["public_path"])
	assert.Equal(t, "/cdn/", out[0].Stages[1].Options["public_path"])
	assert.Nil(t, rules[0].Stages[0].Options)
}

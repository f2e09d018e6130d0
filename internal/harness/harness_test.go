package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/page"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/publish"
	"github.com/roach88/pagebuild/internal/store"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed:\n%v", result.Errors)
		})
	}
}

const minimalDefinition = `
entries:
  - {name: index, source: index.js}
rules:
  - {test: '\.js$', stages: [transpile]}
pages:
  - {template: index.html, title: Pacman}
`

func minimalScenario() *Scenario {
	return &Scenario{
		Name:        "minimal",
		Description: "one entry, one page",
		Definition:  minimalDefinition,
		Files: map[string]string{
			"src/index.html": "<html><head><title>{{ .Title }}</title></head><body></body></html>",
			"src/index.js":   "console.log('index');\n",
		},
		Expect: Expectation{Error: KindNone},
	}
}

func TestRunRecordsBuild(t *testing.T) {
	result, err := Run(minimalScenario())
	require.NoError(t, err)
	require.True(t, result.Pass, "%v", result.Errors)

	assert.Equal(t, "build-0001", result.Build.ID)
	assert.Equal(t, int64(1), result.Build.Seq)
	assert.Equal(t, store.StatusSucceeded, result.Build.Status)
	assert.Equal(t, "dev", result.Build.Mode)
	assert.Nil(t, result.Build.ExternalExitCode, "no external step")
	assert.False(t, result.Build.FinishedAt.Before(result.Build.StartedAt))
	assert.Equal(t, []string{"index.html", "index.js"}, sortedPaths(result.Files))
}

func TestRunIsDeterministic(t *testing.T) {
	first, err := Run(minimalScenario())
	require.NoError(t, err)
	second, err := Run(minimalScenario())
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.Build, second.Build)
}

func TestRunReportsUnexpectedOutcome(t *testing.T) {
	s := minimalScenario()
	s.Expect = Expectation{Error: KindStage}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected outcome stage, got none")
}

func TestRunReportsMessageMismatch(t *testing.T) {
	s := minimalScenario()
	s.Definition = `entries: [{name: index, source: index.js}]
rules: [{test: '\.js$', stages: [less]}]`
	s.Expect = Expectation{Error: KindInvalid, Message: "no such text"}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, KindInvalid, result.ErrorKind)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no such text")
}

func TestRunUndecodableDefinitionIsInvalid(t *testing.T) {
	s := minimalScenario()
	s.Definition = "entries: [{name: index, source: index.js}]\npagez: []\n"
	s.Expect = Expectation{Error: KindInvalid, Message: "pagez"}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
	assert.Empty(t, result.Build.ID, "invalid definitions are not recorded")
}

func TestRunReportsAssertionFailures(t *testing.T) {
	s := minimalScenario()
	s.Assertions = []Assertion{
		{Type: AssertFileExists, Path: "styles.css"},
		{Type: AssertFileContains, Path: "index.html", Text: "<title>Pacman</title>"},
		{Type: AssertFileCount, Count: 3},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion 0")
	assert.Contains(t, result.Errors[1], "assertion 2")
}

func TestRunExternalFake(t *testing.T) {
	s := minimalScenario()
	s.Definition = minimalDefinition + `
external:
  command: [gopherjs, build]
  output: out/game.js
  publish_as: js/game.js
`
	s.External = &ExternalFake{Outputs: map[string]string{"out/game.js": "var game;"}}

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "%v", result.Errors)
	assert.Equal(t, "var game;", result.Files["js/game.js"])
	assert.Equal(t, 1, result.ToolchainCalls)
	require.NotNil(t, result.Build.ExternalExitCode)
	assert.Equal(t, 0, *result.Build.ExternalExitCode)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, KindNone},
		{&pipeline.ChainContractError{}, KindChainContract},
		{&pipeline.ExternalToolchainError{ExitCode: 1}, KindExternalToolchain},
		{errors.Join(&pipeline.StageError{Path: "a.scss", Cause: errors.New("x")}), KindStage},
		{&page.TemplateNotFoundError{Template: "index.html"}, KindTemplateNotFound},
		{&page.UnresolvedEntryPointError{Page: "index.html", Entry: "x"}, KindUnresolvedEntry},
		{&bundle.Error{Entry: "index", Err: errors.New("x")}, KindBundle},
		{fmt.Errorf("writing: %w", &publish.WriteError{Path: "index.html", Err: errors.New("x")}), KindWrite},
		{errors.New("x"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}

func TestNewSnapshotNormalizesFingerprints(t *testing.T) {
	result := NewResult()
	result.Files = map[string]string{
		"index.0badc0de.js":   "",
		"styles.12345678.css": "",
		"pacman.go.js":        "",
		"index.html":          "",
	}
	snap := NewSnapshot("prod", result)
	assert.Equal(t, []string{"index.[hash].js", "index.html", "pacman.go.js", "styles.[hash].css"}, snap.Files)
	assert.Equal(t, KindNone, snap.ErrorKind)
}

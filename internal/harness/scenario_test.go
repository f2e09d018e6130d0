package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenarioYAML = `
name: basic
description: "One entry"
mode: prod
definition: |
  entries:
    - {name: index, source: index.js}
files:
  src/index.js: "console.log(1);"
external:
  code: 3
  stderr: boom
expect:
  error: external_toolchain
  message: boom
assertions:
  - type: file_count
    count: 0
  - type: text_order
    path: index.html
    texts: [a, b]
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(validScenarioYAML))
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, "prod", s.Mode)
	assert.Contains(t, s.Definition, "index.js")
	assert.Equal(t, "console.log(1);", s.Files["src/index.js"])
	require.NotNil(t, s.External)
	assert.Equal(t, 3, s.External.Code)
	assert.Equal(t, "boom", s.External.Stderr)
	assert.Equal(t, KindExternalToolchain, s.Expect.Error)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, []string{"a", "b"}, s.Assertions[1].Texts)
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertion: []\n", "assertion"},
		{"missing name", "description: y\ndefinition: z\nexpect: {error: none}\n", "name is required"},
		{"missing description", "name: x\ndefinition: z\nexpect: {error: none}\n", "description is required"},
		{"missing definition", "name: x\ndescription: y\nexpect: {error: none}\n", "definition is required"},
		{"bad mode", "name: x\ndescription: y\ndefinition: z\nmode: staging\nexpect: {error: none}\n", `mode "staging"`},
		{"missing expect", "name: x\ndescription: y\ndefinition: z\n", "expect.error is required"},
		{"unknown kind", "name: x\ndescription: y\ndefinition: z\nexpect: {error: crash}\n", `unknown error kind "crash"`},
		{"message without error", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none, message: m}\n", "needs an expected error"},
		{"assertion without type", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{path: a}]\n", "assertions[0]: type is required"},
		{"exists without path", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{type: file_exists}]\n", "path is required for file_exists"},
		{"contains without text", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{type: file_contains, path: a}]\n", "text is required"},
		{"order with one text", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{type: text_order, path: a, texts: [x]}]\n", "at least two"},
		{"negative count", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{type: file_count, count: -1}]\n", "non-negative"},
		{"unknown assertion", "name: x\ndescription: y\ndefinition: z\nexpect: {error: none}\nassertions: [{type: trace_contains}]\n", `unknown assertion type "trace_contains"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenariosRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(validScenarioYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(validScenarioYAML), 0o644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "basic" already used by a.yaml`)
}

func TestLoadScenariosSorted(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	assert.Contains(t, names, "pacman_dev")
	assert.Contains(t, names, "toolchain_failure")
}

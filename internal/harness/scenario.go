package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pagebuild/internal/ir"
)

// Scenario defines one build and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mode is "dev" or "prod". Empty means dev.
	Mode string `yaml:"mode,omitempty"`

	// LiveReload injects the reload client into emitted pages.
	LiveReload bool `yaml:"live_reload,omitempty"`

	// Definition is the build definition in YAML form.
	Definition string `yaml:"definition"`

	// Files are the project files, keyed by slash-separated path relative to
	// the project root.
	Files map[string]string `yaml:"files"`

	// External configures the fake toolchain. If nil, a toolchain that
	// succeeds without writing anything is used.
	External *ExternalFake `yaml:"external,omitempty"`

	// Expect is the expected outcome of the build.
	Expect Expectation `yaml:"expect"`

	// Assertions validate the published tree.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ExternalFake is the scripted behaviour of the external toolchain.
type ExternalFake struct {
	Code    int               `yaml:"code"`
	Stderr  string            `yaml:"stderr,omitempty"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// Expectation is the expected build outcome.
type Expectation struct {
	// Error is the expected error kind, one of the Kind* constants.
	Error string `yaml:"error"`

	// Message is a substring the error text must contain.
	Message string `yaml:"message,omitempty"`
}

// Assertion validates the published tree.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Path is the published file (all types except file_count).
	Path string `yaml:"path,omitempty"`

	// Text is the substring looked for (file_contains, file_not_contains).
	Text string `yaml:"text,omitempty"`

	// Texts are the substrings in expected order (text_order).
	Texts []string `yaml:"texts,omitempty"`

	// Count is the exact number of published files (file_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFileExists      = "file_exists"
	AssertFileAbsent      = "file_absent"
	AssertFileContains    = "file_contains"
	AssertFileNotContains = "file_not_contains"
	AssertFileCount       = "file_count"
	AssertTextOrder       = "text_order"
)

// Error kinds a scenario can expect.
const (
	KindNone              = "none"
	KindInvalid           = "invalid"
	KindExternalToolchain = "external_toolchain"
	KindStage             = "stage"
	KindChainContract     = "chain_contract"
	KindTemplateNotFound  = "template_not_found"
	KindUnresolvedEntry   = "unresolved_entry"
	KindBundle            = "bundle"
	KindWrite             = "write"
	KindOther             = "other"
)

var validKinds = map[string]bool{
	KindNone: true, KindInvalid: true, KindExternalToolchain: true, KindStage: true,
	KindChainContract: true, KindTemplateNotFound: true, KindUnresolvedEntry: true,
	KindBundle: true, KindWrite: true, KindOther: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	if s.Mode != "" && !ir.ValidModes[s.Mode] {
		return fmt.Errorf("mode %q must be %q or %q", s.Mode, ir.ModeDev, ir.ModeProd)
	}
	if s.Expect.Error == "" {
		return fmt.Errorf("expect.error is required")
	}
	if !validKinds[s.Expect.Error] {
		return fmt.Errorf("expect.error: unknown error kind %q", s.Expect.Error)
	}
	if s.Expect.Error == KindNone && s.Expect.Message != "" {
		return fmt.Errorf("expect.message needs an expected error")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFileExists, AssertFileAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertFileContains, AssertFileNotContains:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertTextOrder:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for text_order", index)
		}
		if len(a.Texts) < 2 {
			return fmt.Errorf("assertions[%d]: texts needs at least two entries for text_order", index)
		}
	case AssertFileCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for file_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package ir

import "time"

// Build modes.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// ValidModes lists the accepted build modes.
var ValidModes = map[string]bool{
	ModeDev:  true,
	ModeProd: true,
}

// Defaults applied by Normalize.
const (
	DefaultSourceDir  = "src"
	DefaultPublishDir = "dist"
	DefaultPageFile   = "index.html"
	DefaultAssetsDir  = "assets"
	DefaultPublicPath = "/"
	DefaultStylesheet = "styles.css"
)

// BuildDef is the complete, declarative description of one build.
type BuildDef struct {
	// SourceDir holds templates and every source asset.
	SourceDir string `json:"source" yaml:"source"`

	// PublishDir is the ephemeral output directory.
	PublishDir string `json:"publish" yaml:"publish"`

	// Entries in declaration order; one bundle per entry.
	Entries []EntryPoint `json:"entries" yaml:"entries"`

	// External is the optional pre-bundling toolchain step.
	External *ExternalBuildStep `json:"external,omitempty" yaml:"external,omitempty"`

	// Rules in table order; the first matching rule wins.
	Rules []RuleSpec `json:"rules" yaml:"rules"`

	// Pages are emitted in declaration order.
	Pages []PageSpec `json:"pages" yaml:"pages"`

	Assets AssetOptions `json:"assets" yaml:"assets"`

	// Stylesheet is the name of the aggregated stylesheet.
	Stylesheet string `json:"stylesheet,omitempty" yaml:"stylesheet,omitempty"`
}

// EntryPoint is a named root module.
type EntryPoint struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
}

// RuleSpec maps an asset pattern to an ordered stage chain.
type RuleSpec struct {
	// Test is a regular expression matched against the asset path.
	Test string `json:"test" yaml:"test"`

	// Exclude is an optional regular expression; matching paths skip the rule.
	Exclude string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	Stages []StageSpec `json:"stages" yaml:"stages"`
}

// StageSpec names a stage and carries its options.
type StageSpec struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// UnmarshalYAML accepts either a bare stage name or a {name, options} map.
func (s *StageSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		s.Name = name
		return nil
	}
	type plain StageSpec
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = StageSpec(p)
	return nil
}

// PageSpec is a template plus the subset of entries it references.
type PageSpec struct {
	Template string   `json:"template" yaml:"template"`
	Title    string   `json:"title,omitempty" yaml:"title,omitempty"`
	Filename string   `json:"filename,omitempty" yaml:"filename,omitempty"`
	Exclude  []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Excludes reports whether the page leaves out the named entry.
func (p PageSpec) Excludes(entry string) bool {
	for _, e := range p.Exclude {
		if e == entry {
			return true
		}
	}
	return false
}

// ExternalBuildStep invokes an independent compiler before bundling.
type ExternalBuildStep struct {
	// Command is the argv of the toolchain process.
	Command []string `json:"command" yaml:"command"`

	// Dir is the working directory relative to the project root.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Output is the artifact the toolchain writes, relative to the project root.
	Output string `json:"output" yaml:"output"`

	// PublishAs is the artifact name under the publish path.
	PublishAs string `json:"publish_as,omitempty" yaml:"publish_as,omitempty"`

	// Timeout of zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AssetOptions controls pass-through and emitted asset placement.
type AssetOptions struct {
	// Dir is the publish sub-directory for unmatched assets.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// PublicPath prefixes every emitted asset URL.
	PublicPath string `json:"public_path,omitempty" yaml:"public_path,omitempty"`
}

// Normalize fills in defaults. It is idempotent.
func (d *BuildDef) Normalize() {
	if d.SourceDir == "" {
		d.SourceDir = DefaultSourceDir
	}
	if d.PublishDir == "" {
		d.PublishDir = DefaultPublishDir
	}
	if d.Assets.Dir == "" {
		d.Assets.Dir = DefaultAssetsDir
	}
	if d.Assets.PublicPath == "" {
		d.Assets.PublicPath = DefaultPublicPath
	}
	if d.Stylesheet == "" {
		d.Stylesheet = DefaultStylesheet
	}
	for i := range d.Pages {
		if d.Pages[i].Filename == "" {
			d.Pages[i].Filename = DefaultPageFile
		}
	}
}

// EntryNames returns the entry names in declaration order.
func (d *BuildDef) EntryNames() []string {
	names := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		names[i] = e.Name
	}
	return names
}

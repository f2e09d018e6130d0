package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/pagebuild/internal/pipeline"
)

// Vendor prefixes understood by the prefix stage.
const (
	VendorWebkit = "webkit"
	VendorMoz    = "moz"
	VendorMS     = "ms"
)

// DefaultBrowsers approximates ">1%, last 4 versions, not ie < 9" at the
// time the game shipped.
var DefaultBrowsers = []string{"chrome49", "edge12", "firefox52", "ie9", "ios9", "opera36", "safari9"}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// engineVendor is the prefix family each browser engine reads.
var engineVendor = map[string]string{
	"chrome":  VendorWebkit,
	"ios":     VendorWebkit,
	"opera":   VendorWebkit,
	"safari":  VendorWebkit,
	"firefox": VendorMoz,
	"edge":    VendorMS,
	"ie":      VendorMS,
}

var browserPattern = regexp.MustCompile(`^([a-z]+)(\d+(?:\.\d+){0,2})$`)

type prefixStage struct {
	engines []api.Engine
}

// NewPrefix adds vendor-prefixed copies of declarations the target browsers
// need. Options: "browsers" (engine+version list, default DefaultBrowsers)
// and "vendors" (default webkit, moz, ms), which keeps only the browsers
// reading one of the listed prefixes.
func NewPrefix(opts pipeline.Options) (pipeline.Stage, error) {
	vendors, err := opts.Strings("vendors", []string{VendorWebkit, VendorMoz, VendorMS})
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(vendors))
	for _, v := range vendors {
		switch v {
		case VendorWebkit, VendorMoz, VendorMS:
			keep[v] = true
		default:
			return nil, fmt.Errorf("unknown vendor %q", v)
		}
	}

	browsers, err := opts.Strings("browsers", DefaultBrowsers)
	if err != nil {
		return nil, err
	}
	engines, err := parseBrowsers(browsers, keep)
	if err != nil {
		return nil, err
	}
	return &prefixStage{engines: engines}, nil
}

func parseBrowsers(browsers []string, vendors map[string]bool) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(browsers))
	for _, b := range browsers {
		m := browserPattern.FindStringSubmatch(b)
		if m == nil {
			return nil, fmt.Errorf("browser %q must be an engine name followed by a version, like chrome49", b)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown browser engine %q (known: %v)", m[1], knownEngines())
		}
		if !vendors[engineVendor[m[1]]] {
			continue
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}

func knownEngines() []string {
	names := make([]string, 0, len(engineNames))
	for n := range engineNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *prefixStage) Name() string          { return Prefix }
func (s *prefixStage) Input() pipeline.Kind  { return pipeline.KindCSS }
func (s *prefixStage) Output() pipeline.Kind { return pipeline.KindCSS }

// Transform prints the stylesheet back through esbuild with the target
// engines set. esbuild inserts the prefixed copies ahead of each declaration
// and lowers any CSS nesting the targets lack.
func (s *prefixStage) Transform(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	result := api.Transform(string(in.Contents), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Sourcefile: in.Path,
		Engines:    s.engines,
		LogLevel:   api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return pipeline.Artifact{}, err
	}
	in.Contents = result.Code
	return in, nil
}

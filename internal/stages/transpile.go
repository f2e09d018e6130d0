package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/pagebuild/internal/pipeline"
)

var esTargets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

type transpileStage struct {
	target api.Target
}

// NewTranspile lowers modern syntax to the "target" option (default es2015).
// Module syntax is preserved so the bundler can link entries afterwards.
func NewTranspile(opts pipeline.Options) (pipeline.Stage, error) {
	name := strings.ToLower(opts.String("target", "es2015"))
	target, ok := esTargets[name]
	if !ok {
		return nil, fmt.Errorf("unsupported target %q", name)
	}
	return &transpileStage{target: target}, nil
}

func (s *transpileStage) Name() string          { return Transpile }
func (s *transpileStage) Input() pipeline.Kind  { return pipeline.KindJS }
func (s *transpileStage) Output() pipeline.Kind { return pipeline.KindJS }

func (s *transpileStage) Transform(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	result := api.Transform(string(in.Contents), api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     s.target,
		Sourcefile: in.Path,
		LogLevel:   api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return pipeline.Artifact{}, err
	}
	in.Contents = result.Code
	return in, nil
}

// messagesError folds esbuild diagnostics into a single error.
func messagesError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

package stages

import (
	"context"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/roach88/pagebuild/internal/pipeline"
)

type minifyStage struct {
	kind pipeline.Kind
}

// NewMinify minifies css or js, selected by the "kind" option (default css).
func NewMinify(opts pipeline.Options) (pipeline.Stage, error) {
	switch kind := opts.String("kind", "css"); kind {
	case "css":
		return &minifyStage{kind: pipeline.KindCSS}, nil
	case "js":
		return &minifyStage{kind: pipeline.KindJS}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}

func (s *minifyStage) Name() string          { return Minify }
func (s *minifyStage) Input() pipeline.Kind  { return s.kind }
func (s *minifyStage) Output() pipeline.Kind { return s.kind }

func (s *minifyStage) Transform(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	out, err := MinifyBytes(in.Contents, s.kind, in.Path)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	in.Contents = out
	return in, nil
}

// MinifyBytes minifies css or js source. It is also used by the bundler for
// prod-mode stylesheets.
func MinifyBytes(src []byte, kind pipeline.Kind, name string) ([]byte, error) {
	loader := api.LoaderCSS
	if kind == pipeline.KindJS {
		loader = api.LoaderJS
	}
	result := api.Transform(string(src), api.TransformOptions{
		Loader:            loader,
		Sourcefile:        name,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: kind == pipeline.KindJS,
		LogLevel:          api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return nil, err
	}
	return result.Code, nil
}

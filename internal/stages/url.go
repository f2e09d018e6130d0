package stages

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
)

// Defaults for the url stage.
const (
	DefaultURLLimit = 8192
	DefaultURLName  = "images/[name].[ext]"
)

type urlStage struct {
	limit      int
	name       string
	publicPath string
}

// NewURL inlines small binaries as data URIs and emits the rest as files.
// Options: "limit" in bytes (an asset at or below it is inlined; 0 disables
// inlining), "name" pattern and "public_path".
func NewURL(opts pipeline.Options) (pipeline.Stage, error) {
	limit, err := opts.Int("limit", DefaultURLLimit)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", limit)
	}
	name := opts.String("name", DefaultURLName)
	if !strings.Contains(name, "[name]") && !strings.Contains(name, "[hash]") {
		return nil, fmt.Errorf("name pattern %q must contain [name] or [hash]", name)
	}
	publicPath := opts.String("public_path", ir.DefaultPublicPath)
	if !strings.HasSuffix(publicPath, "/") {
		publicPath += "/"
	}
	return &urlStage{limit: limit, name: name, publicPath: publicPath}, nil
}

func (s *urlStage) Name() string          { return URL }
func (s *urlStage) Input() pipeline.Kind  { return pipeline.KindBinary }
func (s *urlStage) Output() pipeline.Kind { return pipeline.KindURL }

func (s *urlStage) Transform(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	if s.limit > 0 && len(in.Contents) <= s.limit {
		in.URL = DataURI(in.Path, in.Contents)
		in.Emit = ""
		return in, nil
	}
	in.Emit = ExpandName(s.name, in.Path, in.Contents)
	in.URL = s.publicPath + in.Emit
	return in, nil
}

// DetectMIME returns the media type of contents without parameters. The
// extension is consulted when content sniffing is inconclusive.
func DetectMIME(name string, contents []byte) string {
	detected := mimetype.Detect(contents)
	mt := detected.String()
	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
			mt = byExt
		}
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

// DataURI encodes contents as a base64 data URI.
func DataURI(name string, contents []byte) string {
	return "data:" + DetectMIME(name, contents) + ";base64," + base64.StdEncoding.EncodeToString(contents)
}

// ExpandName substitutes [name], [ext] and [hash] in pattern.
func ExpandName(pattern, assetPath string, contents []byte) string {
	base := path.Base(assetPath)
	ext := path.Ext(base)
	r := strings.NewReplacer(
		"[name]", strings.TrimSuffix(base, ext),
		"[ext]", strings.TrimPrefix(ext, "."),
		"[hash]", ir.Fingerprint(contents),
	)
	return r.Replace(pattern)
}

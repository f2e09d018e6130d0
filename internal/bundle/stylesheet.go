package bundle

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/stages"
)

// Stylesheet is the aggregated stylesheet shared by every page.
type Stylesheet struct {
	// Filename is the publish-relative name, fingerprinted in prod.
	Filename string
	Contents []byte

	// Sources are the stylesheet artifacts it concatenates, in order.
	Sources []string
}

// Aggregate concatenates the styles imported by bundles, in entry order,
// each file once. url() references to url artifacts are rewritten to their
// published URLs. It returns nil when no bundle imports a style.
func Aggregate(bundles []*Bundle, artifacts map[string]pipeline.Artifact, name, mode string) (*Stylesheet, error) {
	var sources []string
	seen := make(map[string]bool)
	for _, b := range bundles {
		for _, s := range b.Styles {
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for _, src := range sources {
		a, ok := artifacts[src]
		if !ok || a.Kind != pipeline.KindCSS {
			return nil, fmt.Errorf("stylesheet %q has no css artifact", src)
		}
		buf.Write(RewriteURLs(a.Contents, src, artifacts))
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	contents := buf.Bytes()
	filename := name
	if mode == ir.ModeProd {
		min, err := stages.MinifyBytes(contents, pipeline.KindCSS, name)
		if err != nil {
			return nil, fmt.Errorf("minifying %s: %w", name, err)
		}
		contents = min
		ext := path.Ext(name)
		filename = strings.TrimSuffix(name, ext) + "." + ir.Fingerprint(contents) + ext
	}
	return &Stylesheet{Filename: filename, Contents: contents, Sources: sources}, nil
}

var urlRefPattern = regexp.MustCompile(`url\(\s*(['"]?)([^'")\s]+)(['"]?)\s*\)`)

// RewriteURLs replaces relative url() references in css that name a url
// artifact. Absolute, data and unknown references are left alone.
func RewriteURLs(css []byte, stylePath string, artifacts map[string]pipeline.Artifact) []byte {
	return urlRefPattern.ReplaceAllFunc(css, func(m []byte) []byte {
		sub := urlRefPattern.FindSubmatch(m)
		ref := string(sub[2])
		if strings.Contains(ref, ":") || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "#") {
			return m
		}
		target := path.Join(path.Dir(stylePath), ref)
		a, ok := artifacts[target]
		if !ok || a.Kind != pipeline.KindURL {
			return m
		}
		return []byte(`url("` + a.URL + `")`)
	})
}

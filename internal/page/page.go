// Package page renders HTML documents from templates and injects the
// stylesheet link and entry scripts each page references.
package page

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"

	"github.com/roach88/pagebuild/internal/bundle"
	"github.com/roach88/pagebuild/internal/ir"
)

// LiveReloadPath is the script served by the dev server.
const LiveReloadPath = "/__livereload.js"

// TemplateNotFoundError reports a page whose template is missing.
type TemplateNotFoundError struct {
	Template string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Template)
}

// UnresolvedEntryPointError reports a page excluding an entry that does not
// exist.
type UnresolvedEntryPointError struct {
	Page  string
	Entry string
}

func (e *UnresolvedEntryPointError) Error() string {
	return fmt.Sprintf("page %q excludes unknown entry point %q", e.Page, e.Entry)
}

// Document is one rendered page.
type Document struct {
	Filename string
	Contents []byte

	// Entries are the injected entry names, in declaration order.
	Entries []string
}

// Emitter renders pages from templates in a source filesystem.
type Emitter struct {
	// Source holds the templates; paths are relative to its root.
	Source billy.Filesystem

	Mode       string
	PublicPath string

	// LiveReload injects the dev server's reload client.
	LiveReload bool
}

type templateData struct {
	Title string
}

// Emit renders spec. The injected set is every bundle not named in
// spec.Exclude; excluding all of them yields a template-only page.
func (e *Emitter) Emit(spec ir.PageSpec, bundles []*bundle.Bundle, sheet *bundle.Stylesheet) (*Document, error) {
	known := make(map[string]bool, len(bundles))
	for _, b := range bundles {
		known[b.Entry] = true
	}
	for _, ex := range spec.Exclude {
		if !known[ex] {
			return nil, &UnresolvedEntryPointError{Page: spec.Filename, Entry: ex}
		}
	}

	raw, err := e.readTemplate(spec.Template)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(spec.Template).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing template %q: %w", spec.Template, err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, templateData{Title: spec.Title}); err != nil {
		return nil, fmt.Errorf("rendering template %q: %w", spec.Template, err)
	}

	var injected []*bundle.Bundle
	styled := false
	for _, b := range bundles {
		if spec.Excludes(b.Entry) {
			continue
		}
		injected = append(injected, b)
		styled = styled || b.HasStyles()
	}

	var head, body strings.Builder
	if styled && sheet != nil {
		fmt.Fprintf(&head, `<link href="%s" rel="stylesheet">`, e.url(sheet.Filename))
	}
	names := make([]string, 0, len(injected))
	for _, b := range injected {
		fmt.Fprintf(&body, `<script type="text/javascript" src="%s"></script>`, e.url(b.Filename))
		names = append(names, b.Entry)
	}
	if e.LiveReload {
		fmt.Fprintf(&body, `<script type="text/javascript" src="%s"></script>`, LiveReloadPath)
	}

	doc := inject(rendered.String(), head.String(), body.String())

	contents := []byte(doc)
	if e.Mode == ir.ModeProd {
		contents, err = Minify(contents)
		if err != nil {
			return nil, fmt.Errorf("minifying %s: %w", spec.Filename, err)
		}
	}
	return &Document{Filename: spec.Filename, Contents: contents, Entries: names}, nil
}

func (e *Emitter) readTemplate(name string) ([]byte, error) {
	if e.Source == nil {
		return nil, &TemplateNotFoundError{Template: name}
	}
	f, err := e.Source.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &TemplateNotFoundError{Template: name}
		}
		return nil, fmt.Errorf("opening template %q: %w", name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (e *Emitter) url(name string) string {
	prefix := e.PublicPath
	if prefix == "" {
		prefix = ir.DefaultPublicPath
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

// inject places head markup before </head> and body markup before </body>.
// Missing tags fall back to the start and end of the document.
func inject(doc, head, body string) string {
	if head != "" {
		if i := lastIndexFold(doc, "</head>"); i >= 0 {
			doc = doc[:i] + head + doc[i:]
		} else {
			doc = head + doc
		}
	}
	if body != "" {
		if i := lastIndexFold(doc, "</body>"); i >= 0 {
			doc = doc[:i] + body + doc[i:]
		} else {
			doc += body
		}
	}
	return doc
}

// lastIndexFold is strings.LastIndex with ASCII case folding; substr must be
// lower case.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// Minify compacts an HTML document, keeping the html, head and body tags.
func Minify(doc []byte) ([]byte, error) {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m.Bytes("text/html", doc)
}

package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/pagebuild/internal/pipeline"
)

// NewPreprocess compiles the supported SCSS subset to plain CSS:
//   - $variables (lexically scoped, with !default)
//   - #{$var} interpolation
//   - // line comments and /* */ block comments
//   - nested rules, including & parent references and nested @media
//
// @import and @use are passed through as plain CSS at-rules; partials are
// never inlined because a stage may only read its own asset.
func NewPreprocess(pipeline.Options) (pipeline.Stage, error) {
	return preprocessStage{}, nil
}

type preprocessStage struct{}

func (preprocessStage) Name() string          { return Preprocess }
func (preprocessStage) Input() pipeline.Kind  { return pipeline.KindSCSS }
func (preprocessStage) Output() pipeline.Kind { return pipeline.KindCSS }

func (preprocessStage) Transform(_ context.Context, in pipeline.Artifact) (pipeline.Artifact, error) {
	css, err := CompileSCSS(string(in.Contents))
	if err != nil {
		return pipeline.Artifact{}, err
	}
	in.Contents = []byte(css)
	return in, nil
}

// CompileSCSS compiles src to CSS. Output has one declaration per line,
// indented by two spaces, and one rule block per selector list.
func CompileSCSS(src string) (string, error) {
	p := &scssParser{src: stripComments(src)}
	nodes, err := p.parseBlock(false)
	if err != nil {
		return "", err
	}
	var w strings.Builder
	if err := emitSCSS(nodes, nil, map[string]string{}, &w, false); err != nil {
		return "", err
	}
	return w.String(), nil
}

type scssNodeKind int

const (
	scssDecl scssNodeKind = iota
	scssVar
	scssRule
	scssAtBlock
	scssAtStmt
)

type scssNode struct {
	kind     scssNodeKind
	name     string // property, variable (with $) or prelude
	value    string
	children []*scssNode
}

type scssParser struct {
	src string
	pos int
}

// parseBlock reads statements until end of input or, when nested, the
// closing brace (which it consumes).
func (p *scssParser) parseBlock(nested bool) ([]*scssNode, error) {
	var nodes []*scssNode
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if nested {
				return nil, fmt.Errorf("unexpected end of input: missing }")
			}
			return nodes, nil
		}
		if p.src[p.pos] == '}' {
			if !nested {
				return nil, fmt.Errorf("unexpected } at offset %d", p.pos)
			}
			p.pos++
			return nodes, nil
		}

		chunk, term := p.readChunk()
		text := strings.TrimSpace(chunk)

		switch term {
		case '{':
			p.pos++
			children, err := p.parseBlock(true)
			if err != nil {
				return nil, err
			}
			kind := scssRule
			if strings.HasPrefix(text, "@") {
				kind = scssAtBlock
			}
			if text == "" {
				return nil, fmt.Errorf("block without selector at offset %d", p.pos)
			}
			nodes = append(nodes, &scssNode{kind: kind, name: text, children: children})
		case ';':
			p.pos++
			fallthrough
		default: // '}' or end of input; leave it for the loop
			if text == "" {
				continue
			}
			n, err := parseStatement(text)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
}

// readChunk advances to the next top-level ';', '{' or '}', skipping
// quoted strings, parentheses and #{} interpolation. It returns the text
// before the terminator and the terminator itself (0 at end of input).
func (p *scssParser) readChunk() (string, byte) {
	start := p.pos
	depth := 0
	var quote byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case quote != 0:
			if c == '\\' {
				p.pos++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '{':
			end := strings.IndexByte(p.src[p.pos:], '}')
			if end < 0 {
				p.pos = len(p.src)
				return p.src[start:], 0
			}
			p.pos += end
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && (c == ';' || c == '{' || c == '}'):
			return p.src[start:p.pos], c
		}
		p.pos++
	}
	return p.src[start:], 0
}

func (p *scssParser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func parseStatement(text string) (*scssNode, error) {
	if strings.HasPrefix(text, "@") {
		return &scssNode{kind: scssAtStmt, name: text}, nil
	}
	i := strings.IndexByte(text, ':')
	if i <= 0 {
		return nil, fmt.Errorf("expected declaration, got %q", text)
	}
	name := strings.TrimSpace(text[:i])
	value := strings.TrimSpace(text[i+1:])
	if strings.HasPrefix(name, "$") {
		return &scssNode{kind: scssVar, name: name, value: value}, nil
	}
	return &scssNode{kind: scssDecl, name: name, value: value}, nil
}

var (
	interpPattern   = regexp.MustCompile(`#\{\s*(\$[A-Za-z_][\w-]*)\s*\}`)
	variablePattern = regexp.MustCompile(`\$[A-Za-z_][\w-]*`)
)

// substitute resolves #{$var} and $var references against scope.
func substitute(s string, scope map[string]string) (string, error) {
	var missing string
	resolve := func(name string) string {
		v, ok := scope[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	}
	s = interpPattern.ReplaceAllStringFunc(s, func(m string) string {
		return resolve(interpPattern.FindStringSubmatch(m)[1])
	})
	s = variablePattern.ReplaceAllStringFunc(s, resolve)
	if missing != "" {
		return "", fmt.Errorf("undefined variable %s", missing)
	}
	return s, nil
}

func copyScope(scope map[string]string) map[string]string {
	out := make(map[string]string, len(scope))
	for k, v := range scope {
		out[k] = v
	}
	return out
}

// emitSCSS writes nodes for the selector list sels. bare allows
// declarations without a selector (the body of @font-face and friends).
func emitSCSS(nodes []*scssNode, sels []string, scope map[string]string, w *strings.Builder, bare bool) error {
	scope = copyScope(scope)

	type pending struct {
		node  *scssNode
		scope map[string]string
	}
	var decls []string
	var nested []pending

	for _, n := range nodes {
		switch n.kind {
		case scssVar:
			value := n.value
			isDefault := strings.HasSuffix(value, "!default")
			if isDefault {
				if _, ok := scope[n.name]; ok {
					continue
				}
				value = strings.TrimSpace(strings.TrimSuffix(value, "!default"))
			}
			v, err := substitute(value, scope)
			if err != nil {
				return err
			}
			scope[n.name] = v
		case scssDecl:
			if sels == nil && !bare {
				return fmt.Errorf("declaration %q outside of a rule", n.name)
			}
			name, err := substitute(n.name, scope)
			if err != nil {
				return err
			}
			v, err := substitute(n.value, scope)
			if err != nil {
				return err
			}
			decls = append(decls, name+": "+v)
		default:
			nested = append(nested, pending{node: n, scope: copyScope(scope)})
		}
	}

	if len(decls) > 0 {
		if sels == nil {
			for _, d := range decls {
				w.WriteString("  " + d + ";\n")
			}
		} else {
			w.WriteString(strings.Join(sels, ", ") + " {\n")
			for _, d := range decls {
				w.WriteString("  " + d + ";\n")
			}
			w.WriteString("}\n")
		}
	}

	for _, pn := range nested {
		n := pn.node
		switch n.kind {
		case scssRule:
			selector, err := substitute(n.name, pn.scope)
			if err != nil {
				return err
			}
			if err := emitSCSS(n.children, combineSelectors(sels, selector), pn.scope, w, false); err != nil {
				return err
			}
		case scssAtBlock:
			prelude, err := substitute(n.name, pn.scope)
			if err != nil {
				return err
			}
			w.WriteString(prelude + " {\n")
			if err := emitSCSS(n.children, sels, pn.scope, w, sels == nil); err != nil {
				return err
			}
			w.WriteString("}\n")
		case scssAtStmt:
			stmt, err := substitute(n.name, pn.scope)
			if err != nil {
				return err
			}
			w.WriteString(stmt + ";\n")
		}
	}
	return nil
}

// combineSelectors resolves a nested selector list against its parents.
func combineSelectors(parents []string, selector string) []string {
	children := splitTopLevel(selector, ',')
	if len(parents) == 0 {
		out := make([]string, 0, len(children))
		for _, c := range children {
			out = append(out, strings.TrimSpace(strings.ReplaceAll(c, "&", "")))
		}
		return out
	}
	out := make([]string, 0, len(parents)*len(children))
	for _, p := range parents {
		for _, c := range children {
			if strings.Contains(c, "&") {
				out = append(out, strings.ReplaceAll(c, "&", p))
			} else {
				out = append(out, p+" "+c)
			}
		}
	}
	return out
}

// splitTopLevel splits s on sep outside parentheses and trims each part.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// stripComments removes // line comments and /* */ block comments outside
// strings and parentheses, so url(http://...) survives.
func stripComments(src string) string {
	var b strings.Builder
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '/' && depth == 0:
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

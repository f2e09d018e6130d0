package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pagebuild/internal/ir"
)

// CompileBuild parses a CUE value into a BuildDef.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the build struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`build: { entries: index: "index.js" ... }`)
//	def, err := CompileBuild(v.LookupPath(cue.ParsePath("build")))
//
// Entries may be written as a struct (label is the entry name, declaration
// order is kept) or as a list of {name, source}.
func CompileBuild(v cue.Value) (*ir.BuildDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.BuildDef{}
	var err error

	if def.SourceDir, err = optionalString(v, "source"); err != nil {
		return nil, err
	}
	if def.PublishDir, err = optionalString(v, "publish"); err != nil {
		return nil, err
	}
	if def.Stylesheet, err = optionalString(v, "stylesheet"); err != nil {
		return nil, err
	}

	if def.Entries, err = parseEntries(v); err != nil {
		return nil, err
	}
	if len(def.Entries) == 0 {
		return nil, &CompileError{
			Field:   "entries",
			Message: "at least one entry is required",
			Pos:     v.Pos(),
		}
	}

	if def.Rules, err = parseRules(v); err != nil {
		return nil, err
	}
	if def.Pages, err = parsePages(v); err != nil {
		return nil, err
	}
	if def.External, err = parseExternal(v); err != nil {
		return nil, err
	}

	assetsVal := v.LookupPath(cue.ParsePath("assets"))
	if assetsVal.Exists() {
		if def.Assets.Dir, err = optionalString(assetsVal, "dir"); err != nil {
			return nil, err
		}
		if def.Assets.PublicPath, err = optionalString(assetsVal, "public_path"); err != nil {
			return nil, err
		}
	}

	return def, nil
}

// parseEntries reads the entries struct or list.
func parseEntries(v cue.Value) ([]ir.EntryPoint, error) {
	entriesVal := v.LookupPath(cue.ParsePath("entries"))
	if !entriesVal.Exists() {
		return nil, nil
	}

	var entries []ir.EntryPoint
	if entriesVal.IncompleteKind() == cue.ListKind {
		iter, err := entriesVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			item := iter.Value()
			name, err := requiredString(item, "name")
			if err != nil {
				return nil, err
			}
			source, err := requiredString(item, "source")
			if err != nil {
				return nil, err
			}
			entries = append(entries, ir.EntryPoint{Name: name, Source: source})
		}
		return entries, nil
	}

	iter, err := entriesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		source, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "entries." + name,
				Message: "entry source must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		entries = append(entries, ir.EntryPoint{Name: name, Source: source})
	}
	return entries, nil
}

// parseRules reads the ordered rule list. Order is significant: the first
// matching rule wins.
func parseRules(v cue.Value) ([]ir.RuleSpec, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, nil
	}
	iter, err := rulesVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "rules",
			Message: "rules must be a list",
			Pos:     rulesVal.Pos(),
		}
	}

	var rules []ir.RuleSpec
	for iter.Next() {
		ruleVal := iter.Value()
		test, err := requiredString(ruleVal, "test")
		if err != nil {
			return nil, err
		}
		exclude, err := optionalString(ruleVal, "exclude")
		if err != nil {
			return nil, err
		}
		stages, err := parseStages(ruleVal)
		if err != nil {
			return nil, err
		}
		rules = append(rules, ir.RuleSpec{Test: test, Exclude: exclude, Stages: stages})
	}
	return rules, nil
}

// parseStages reads a rule's chain. Each element is a stage name or a
// struct with name and options.
func parseStages(v cue.Value) ([]ir.StageSpec, error) {
	stagesVal := v.LookupPath(cue.ParsePath("stages"))
	if !stagesVal.Exists() {
		return nil, nil
	}
	iter, err := stagesVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "stages",
			Message: "stages must be a list",
			Pos:     stagesVal.Pos(),
		}
	}

	var specs []ir.StageSpec
	for iter.Next() {
		stageVal := iter.Value()
		if name, err := stageVal.String(); err == nil {
			specs = append(specs, ir.StageSpec{Name: name})
			continue
		}

		name, err := requiredString(stageVal, "name")
		if err != nil {
			return nil, err
		}
		spec := ir.StageSpec{Name: name}
		optsVal := stageVal.LookupPath(cue.ParsePath("options"))
		if optsVal.Exists() {
			var opts map[string]any
			if err := optsVal.Decode(&opts); err != nil {
				return nil, formatCUEError(err)
			}
			spec.Options = opts
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// parsePages reads the ordered page list.
func parsePages(v cue.Value) ([]ir.PageSpec, error) {
	pagesVal := v.LookupPath(cue.ParsePath("pages"))
	if !pagesVal.Exists() {
		return nil, nil
	}
	iter, err := pagesVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "pages",
			Message: "pages must be a list",
			Pos:     pagesVal.Pos(),
		}
	}

	var pages []ir.PageSpec
	for iter.Next() {
		pageVal := iter.Value()
		var p ir.PageSpec
		if p.Template, err = requiredString(pageVal, "template"); err != nil {
			return nil, err
		}
		if p.Title, err = optionalString(pageVal, "title"); err != nil {
			return nil, err
		}
		if p.Filename, err = optionalString(pageVal, "filename"); err != nil {
			return nil, err
		}
		if p.Exclude, err = optionalStrings(pageVal, "exclude"); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// parseExternal reads the optional toolchain step. The command is an argv
// list; a plain string is rejected so no shell quoting rules apply here.
func parseExternal(v cue.Value) (*ir.ExternalBuildStep, error) {
	extVal := v.LookupPath(cue.ParsePath("external"))
	if !extVal.Exists() {
		return nil, nil
	}

	step := &ir.ExternalBuildStep{}
	var err error
	if step.Command, err = optionalStrings(extVal, "command"); err != nil {
		return nil, err
	}
	if len(step.Command) == 0 {
		return nil, &CompileError{
			Field:   "external.command",
			Message: "command is required",
			Pos:     extVal.Pos(),
		}
	}
	if step.Output, err = requiredString(extVal, "output"); err != nil {
		return nil, err
	}
	if step.Dir, err = optionalString(extVal, "dir"); err != nil {
		return nil, err
	}
	if step.PublishAs, err = optionalString(extVal, "publish_as"); err != nil {
		return nil, err
	}

	timeout, err := optionalString(extVal, "timeout")
	if err != nil {
		return nil, err
	}
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, &CompileError{
				Field:   "external.timeout",
				Message: fmt.Sprintf("invalid duration %q", timeout),
				Pos:     extVal.LookupPath(cue.ParsePath("timeout")).Pos(),
			}
		}
		step.Timeout = d
	}
	return step, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return "", nil
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, field string) ([]string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return nil, nil
	}
	iter, err := fieldVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: field + " must be a list of strings",
			Pos:     fieldVal.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents an error during CUE compilation.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError converts a CUE error to a CompileError with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	cueErrs := errors.Errors(err)
	if len(cueErrs) == 0 {
		return &CompileError{Message: err.Error()}
	}

	first := cueErrs[0]
	positions := errors.Positions(first)
	var pos token.Pos
	if len(positions) > 0 {
		pos = positions[0]
	}

	format, args := first.Msg()
	return &CompileError{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}


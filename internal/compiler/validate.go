package compiler

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
	"github.com/roach88/pagebuild/internal/stages"
)

// Validation error codes (E200-E299)
const (
	// Entry errors (E201-E209)
	ErrNoEntries        = "E201" // at least one entry required
	ErrInvalidEntryName = "E202" // entry name empty or not a plain identifier
	ErrDuplicateEntry   = "E203" // duplicate entry name
	ErrEmptyEntrySource = "E204" // entry source required

	// Rule errors (E210-E219)
	ErrInvalidPattern = "E210" // test or exclude is not a valid regular expression
	ErrUnknownStage   = "E211" // stage name not registered
	ErrStageOptions   = "E212" // stage rejected its options
	ErrChainContract  = "E213" // adjacent stages disagree on artifact kind

	// Page errors (E220-E229)
	ErrEmptyTemplate   = "E220" // page template required
	ErrUnknownExclude  = "E221" // page excludes an entry that does not exist
	ErrDuplicatePage   = "E222" // two pages write the same file
	ErrTemplateIsEntry = "E223" // template path is also an entry source

	// External step errors (E230-E239)
	ErrExternalNoCommand = "E230" // command required
	ErrExternalNoOutput  = "E231" // output path required
	ErrExternalTimeout   = "E232" // negative timeout

	// Path errors (E240-E249)
	ErrPathEscapes     = "E240" // path is absolute or leaves the project
	ErrPublishIsSource = "E241" // publish path overlaps the source directory
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var entryNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Validate checks a build definition against schema rules, instantiating
// every stage chain against reg. A nil registry means the built-in stages.
// Returns all errors found (does not fail-fast). def is not modified.
func Validate(def *ir.BuildDef, reg *pipeline.Registry) []ValidationError {
	if reg == nil {
		reg = stages.DefaultRegistry()
	}
	d := *def
	d.Pages = append([]ir.PageSpec(nil), def.Pages...)
	d.Normalize()

	var errs []ValidationError
	errs = append(errs, validatePaths(&d)...)
	errs = append(errs, validateEntries(&d)...)
	errs = append(errs, validateRules(&d, reg)...)
	errs = append(errs, validatePages(&d)...)
	if d.External != nil {
		errs = append(errs, validateExternal(d.External)...)
	}
	return errs
}

// Err joins validation errors into one error, or returns nil.
func Err(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

func validatePaths(d *ir.BuildDef) []ValidationError {
	var errs []ValidationError
	check := func(field, p string) {
		if escapes(p) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("path %q must be relative and stay inside the project", p),
				Code:    ErrPathEscapes,
			})
		}
	}
	check("source", d.SourceDir)
	check("publish", d.PublishDir)
	check("assets.dir", d.Assets.Dir)

	src, pub := path.Clean(d.SourceDir), path.Clean(d.PublishDir)
	if src == pub || within(src, pub) || within(pub, src) {
		errs = append(errs, ValidationError{
			Field:   "publish",
			Message: fmt.Sprintf("publish path %q overlaps source directory %q", d.PublishDir, d.SourceDir),
			Code:    ErrPublishIsSource,
		})
	}
	return errs
}

func validateEntries(d *ir.BuildDef) []ValidationError {
	var errs []ValidationError

	// E201: at least one entry required
	if len(d.Entries) == 0 {
		errs = append(errs, ValidationError{
			Field:   "entries",
			Message: "at least one entry is required",
			Code:    ErrNoEntries,
		})
	}

	names := make(map[string]bool)
	for i, e := range d.Entries {
		if !entryNamePattern.MatchString(e.Name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entries[%d].name", i),
				Message: fmt.Sprintf("invalid entry name %q", e.Name),
				Code:    ErrInvalidEntryName,
			})
		}
		if names[e.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entries[%d].name", i),
				Message: fmt.Sprintf("duplicate entry name: %q", e.Name),
				Code:    ErrDuplicateEntry,
			})
		}
		names[e.Name] = true

		if strings.TrimSpace(e.Source) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entries[%d].source", i),
				Message: fmt.Sprintf("entry %q has no source", e.Name),
				Code:    ErrEmptyEntrySource,
			})
		} else if escapes(e.Source) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entries[%d].source", i),
				Message: fmt.Sprintf("path %q must be relative and stay inside the source directory", e.Source),
				Code:    ErrPathEscapes,
			})
		}
	}
	return errs
}

func validateRules(d *ir.BuildDef, reg *pipeline.Registry) []ValidationError {
	var errs []ValidationError
	for i, r := range d.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if _, err := regexp.Compile(r.Test); err != nil || r.Test == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".test",
				Message: fmt.Sprintf("invalid pattern %q", r.Test),
				Code:    ErrInvalidPattern,
			})
		}
		if r.Exclude != "" {
			if _, err := regexp.Compile(r.Exclude); err != nil {
				errs = append(errs, ValidationError{
					Field:   field + ".exclude",
					Message: fmt.Sprintf("invalid pattern %q", r.Exclude),
					Code:    ErrInvalidPattern,
				})
			}
		}

		chain := make([]pipeline.Stage, 0, len(r.Stages))
		complete := true
		for j, spec := range r.Stages {
			stageField := fmt.Sprintf("%s.stages[%d]", field, j)
			if !reg.Has(spec.Name) {
				errs = append(errs, ValidationError{
					Field:   stageField,
					Message: fmt.Sprintf("unknown stage %q (known: %s)", spec.Name, strings.Join(reg.Names(), ", ")),
					Code:    ErrUnknownStage,
				})
				complete = false
				continue
			}
			stage, err := reg.Build(spec)
			if err != nil {
				errs = append(errs, ValidationError{
					Field:   stageField + ".options",
					Message: err.Error(),
					Code:    ErrStageOptions,
				})
				complete = false
				continue
			}
			chain = append(chain, stage)
		}
		if !complete {
			continue
		}
		for j := 1; j < len(chain); j++ {
			prev, next := chain[j-1], chain[j]
			if prev.Output() != next.Input() {
				msg := fmt.Sprintf("stage %q produces %s but %q expects %s",
					prev.Name(), prev.Output(), next.Name(), next.Input())
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.stages[%d]", field, j),
					Message: msg,
					Code:    ErrChainContract,
				})
			}
		}
	}
	return errs
}

func validatePages(d *ir.BuildDef) []ValidationError {
	var errs []ValidationError
	entries := make(map[string]bool, len(d.Entries))
	sources := make(map[string]bool, len(d.Entries))
	for _, e := range d.Entries {
		entries[e.Name] = true
		sources[path.Clean(e.Source)] = true
	}

	filenames := make(map[string]bool)
	for i, p := range d.Pages {
		field := fmt.Sprintf("pages[%d]", i)
		if strings.TrimSpace(p.Template) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".template",
				Message: "template is required",
				Code:    ErrEmptyTemplate,
			})
		} else if escapes(p.Template) {
			errs = append(errs, ValidationError{
				Field:   field + ".template",
				Message: fmt.Sprintf("path %q must be relative and stay inside the source directory", p.Template),
				Code:    ErrPathEscapes,
			})
		} else if sources[path.Clean(p.Template)] {
			errs = append(errs, ValidationError{
				Field:   field + ".template",
				Message: fmt.Sprintf("template %q is also an entry source", p.Template),
				Code:    ErrTemplateIsEntry,
			})
		}

		if escapes(p.Filename) {
			errs = append(errs, ValidationError{
				Field:   field + ".filename",
				Message: fmt.Sprintf("path %q must be relative and stay inside the publish path", p.Filename),
				Code:    ErrPathEscapes,
			})
		}
		name := path.Clean(p.Filename)
		if filenames[name] {
			errs = append(errs, ValidationError{
				Field:   field + ".filename",
				Message: fmt.Sprintf("duplicate page filename: %q", p.Filename),
				Code:    ErrDuplicatePage,
			})
		}
		filenames[name] = true

		for j, ex := range p.Exclude {
			if !entries[ex] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.exclude[%d]", field, j),
					Message: fmt.Sprintf("page %q excludes unknown entry %q", p.Filename, ex),
					Code:    ErrUnknownExclude,
				})
			}
		}
	}
	return errs
}

func validateExternal(step *ir.ExternalBuildStep) []ValidationError {
	var errs []ValidationError
	if len(step.Command) == 0 || strings.TrimSpace(step.Command[0]) == "" {
		errs = append(errs, ValidationError{
			Field:   "external.command",
			Message: "command is required",
			Code:    ErrExternalNoCommand,
		})
	}
	if strings.TrimSpace(step.Output) == "" {
		errs = append(errs, ValidationError{
			Field:   "external.output",
			Message: "output is required",
			Code:    ErrExternalNoOutput,
		})
	} else if escapes(step.Output) {
		errs = append(errs, ValidationError{
			Field:   "external.output",
			Message: fmt.Sprintf("path %q must be relative and stay inside the project", step.Output),
			Code:    ErrPathEscapes,
		})
	}
	if step.Dir != "" && escapes(step.Dir) {
		errs = append(errs, ValidationError{
			Field:   "external.dir",
			Message: fmt.Sprintf("path %q must be relative and stay inside the project", step.Dir),
			Code:    ErrPathEscapes,
		})
	}
	if step.PublishAs != "" && escapes(step.PublishAs) {
		errs = append(errs, ValidationError{
			Field:   "external.publish_as",
			Message: fmt.Sprintf("path %q must be relative and stay inside the publish path", step.PublishAs),
			Code:    ErrPathEscapes,
		})
	}
	if step.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "external.timeout",
			Message: "timeout must not be negative",
			Code:    ErrExternalTimeout,
		})
	}
	return errs
}

// escapes reports whether a slash path is absolute or climbs out of its root.
func escapes(p string) bool {
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return true
	}
	clean := path.Clean(p)
	return clean == ".." || strings.HasPrefix(clean, "../")
}

func within(parent, child string) bool {
	if parent == "." {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pagebuild/internal/compiler"
	"github.com/roach88/pagebuild/internal/ir"
)

// DefinitionFiles are tried in order when no --config is given.
var DefinitionFiles = []string{"build.cue", "build.yaml", "build.yml"}

// LoadResult is a loaded build definition and where it came from.
type LoadResult struct {
	Definition *ir.BuildDef

	// Path is the definition file that was read.
	Path string

	// ProjectDir is the directory holding the definition; every path in
	// the definition is relative to it.
	ProjectDir string
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FindDefinition returns the first of DefinitionFiles present in dir.
func FindDefinition(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("project directory not found: %s", dir)}
	}
	for _, name := range DefinitionFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", &LoadError{Code: ErrCodeNoDefinition, Message: fmt.Sprintf("no build definition (%v) found in %s", DefinitionFiles, dir)}
}

// LoadDefinition reads a CUE or YAML build definition. A CUE file may hold
// the definition at the top level or under a "build" field.
func LoadDefinition(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("build definition not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	result := &LoadResult{Path: abs, ProjectDir: filepath.Dir(abs)}

	switch filepath.Ext(path) {
	case ".cue":
		result.Definition, err = compileCUE(abs, data)
	case ".yaml", ".yml":
		result.Definition, err = compiler.DecodeYAML(bytes.NewReader(data))
	default:
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported definition format %q (want .cue, .yaml or .yml)", filepath.Ext(path))}
	}
	if err != nil {
		return nil, convertCompileError(err, path)
	}
	return result, nil
}

func compileCUE(filename string, data []byte) (*ir.BuildDef, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if value.Err() == nil {
		if build := value.LookupPath(cue.ParsePath("build")); build.Exists() {
			value = build
		}
	}
	return compiler.CompileBuild(value)
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		msg := compileErr.Message
		if compileErr.Field != "" {
			msg = compileErr.Field + ": " + msg
		}
		return &LoadError{
			Code:    ErrCodeLoadFailed,
			Message: msg,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeLoadFailed,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// resolveDefinition loads the definition named by --config, or the first
// definition file found in the working directory.
func resolveDefinition(config string) (*LoadResult, error) {
	if config == "" {
		found, err := FindDefinition(".")
		if err != nil {
			return nil, err
		}
		config = found
	}
	return LoadDefinition(config)
}

// loadErrorCode returns the code of a *LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// Package stages provides the built-in transform stages.
//
// Each stage is constructed from definition options by a pipeline.Factory
// and declares the kinds it consumes and produces:
//
//	transpile   js   -> js    syntax lowering to an ES target (esbuild)
//	preprocess  scss -> css   variables, comments, nesting
//	prefix      css  -> css   vendor prefixes from a property table
//	url         binary -> url data URI below a size limit, emitted file above
//	minify      css|js -> css|js
package stages

import "github.com/roach88/pagebuild/internal/pipeline"

// Stage names.
const (
	Transpile  = "transpile"
	Preprocess = "preprocess"
	Prefix     = "prefix"
	URL        = "url"
	Minify     = "minify"
)

// Register adds every built-in stage to reg.
func Register(reg *pipeline.Registry) {
	reg.Register(Transpile, NewTranspile)
	reg.Register(Preprocess, NewPreprocess)
	reg.Register(Prefix, NewPrefix)
	reg.Register(URL, NewURL)
	reg.Register(Minify, NewMinify)
}

// DefaultRegistry returns a registry holding the built-in stages.
func DefaultRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	Register(reg)
	return reg
}

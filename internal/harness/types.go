package harness

import "github.com/roach88/pagebuild/internal/store"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if the outcome and every assertion matched.
	Pass bool `json:"pass"`

	// ErrorKind is the kind of the build error, KindNone on success.
	ErrorKind string `json:"error_kind"`

	// Err is the build error, if any.
	Err error `json:"-"`

	// Files is the published tree, path to contents.
	Files map[string]string `json:"files"`

	// Build is the history record of the run.
	Build store.Build `json:"build"`

	// ToolchainCalls is how many times the external toolchain ran.
	ToolchainCalls int `json:"toolchain_calls"`

	// Errors lists every mismatch. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		ErrorKind: KindNone,
		Files:     make(map[string]string),
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

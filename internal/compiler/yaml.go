package compiler

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pagebuild/internal/ir"
)

// DecodeYAML reads a build definition from YAML. Unknown fields are
// rejected so a typo like "rule:" fails instead of being ignored.
func DecodeYAML(r io.Reader) (*ir.BuildDef, error) {
	var def ir.BuildDef
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CompileError{Field: "definition", Message: "empty build definition"}
		}
		return nil, &CompileError{Field: "yaml", Message: err.Error()}
	}
	if len(def.Entries) == 0 {
		return nil, &CompileError{Field: "entries", Message: "at least one entry is required"}
	}
	if def.External != nil && len(def.External.Command) == 0 {
		return nil, &CompileError{Field: "external.command", Message: "command is required"}
	}
	return &def, nil
}

// EncodeYAML writes def in the form DecodeYAML reads.
func EncodeYAML(w io.Writer, def *ir.BuildDef) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return fmt.Errorf("encoding definition: %w", err)
	}
	return enc.Close()
}

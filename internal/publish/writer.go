// Package publish writes a finished build to the publish path.
//
// A build hands the writer its complete output at once; nothing reaches
// the publish filesystem until every earlier phase has succeeded.
package publish

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/pagebuild/internal/ir"
)

// File is one output file. Path is slash-separated and relative to the
// publish root.
type File struct {
	Path     string
	Contents []byte
}

// WrittenFile records what was written.
type WrittenFile struct {
	Path string
	Size int

	// Hash is the content hash of the written bytes.
	Hash string
}

// WriteError reports a failed write. Files written before it stay in place.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Write writes files to fs in sorted path order, overwriting existing
// files. Paths are validated up front; a duplicate or escaping path fails
// before anything is written.
func Write(fs billy.Filesystem, files []File) ([]WrittenFile, error) {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	seen := make(map[string]bool, len(sorted))
	for i := range sorted {
		clean, err := cleanPath(sorted[i].Path)
		if err != nil {
			return nil, &WriteError{Path: sorted[i].Path, Err: err}
		}
		if seen[clean] {
			return nil, &WriteError{Path: clean, Err: fmt.Errorf("produced more than once")}
		}
		seen[clean] = true
		sorted[i].Path = clean
	}

	written := make([]WrittenFile, 0, len(sorted))
	for _, f := range sorted {
		if dir := path.Dir(f.Path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return written, &WriteError{Path: f.Path, Err: err}
			}
		}
		if err := util.WriteFile(fs, f.Path, f.Contents, 0o644); err != nil {
			return written, &WriteError{Path: f.Path, Err: err}
		}
		written = append(written, WrittenFile{Path: f.Path, Size: len(f.Contents), Hash: ir.ContentHash(f.Contents)})
	}
	return written, nil
}

func cleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes the publish root")
	}
	return clean, nil
}

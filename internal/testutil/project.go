// Package testutil provides fixtures shared by package tests: in-memory
// projects, a fake toolchain and deterministic clocks and IDs.
package testutil

import (
	"context"
	"os"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/pipeline"
)

// NewProject creates an in-memory project holding files, keyed by
// slash-separated path.
func NewProject(t testing.TB, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	WriteFiles(t, fs, files)
	return fs
}

// WriteFiles writes files into fs, creating directories as needed.
func WriteFiles(t testing.TB, fs billy.Filesystem, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		if dir := path.Dir(name); dir != "." {
			require.NoError(t, fs.MkdirAll(dir, 0o755))
		}
		require.NoError(t, util.WriteFile(fs, name, []byte(contents), 0o644))
	}
}

// ReadTree returns every file under dir in fs. A missing dir yields an
// empty map.
func ReadTree(t testing.TB, fs billy.Filesystem, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	var walk func(rel string)
	walk = func(rel string) {
		entries, err := fs.ReadDir(path.Join(dir, rel))
		if os.IsNotExist(err) {
			return
		}
		require.NoError(t, err)
		for _, e := range entries {
			child := path.Join(rel, e.Name())
			if e.IsDir() {
				walk(child)
				continue
			}
			data, err := util.ReadFile(fs, path.Join(dir, child))
			require.NoError(t, err)
			out[child] = string(data)
		}
	}
	walk("")
	return out
}

// SortedKeys returns the keys of m in order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeToolchain stands in for the external compiler. On a zero exit it
// writes Outputs into FS, the way a real toolchain writes its artifact.
type FakeToolchain struct {
	FS      billy.Filesystem
	Code    int
	Stderr  string
	Outputs map[string]string

	// OnRun is called at the start of each run.
	OnRun func()

	mu    sync.Mutex
	calls int
}

// Run implements pipeline.Toolchain.
func (f *FakeToolchain) Run(_ context.Context, _ ir.ExternalBuildStep, _ string) (pipeline.ExitStatus, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.OnRun != nil {
		f.OnRun()
	}
	if f.Code == 0 && f.FS != nil {
		for name, contents := range f.Outputs {
			if dir := path.Dir(name); dir != "." {
				if err := f.FS.MkdirAll(dir, 0o755); err != nil {
					return pipeline.ExitStatus{Code: -1}, err
				}
			}
			if err := util.WriteFile(f.FS, name, []byte(contents), 0o644); err != nil {
				return pipeline.ExitStatus{Code: -1}, err
			}
		}
	}
	return pipeline.ExitStatus{Code: f.Code, Stderr: f.Stderr}, nil
}

// Calls returns how many times Run was invoked.
func (f *FakeToolchain) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

package publish

import (
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pagebuild/internal/ir"
)

// failingFS fails to open one path for writing.
type failingFS struct {
	billy.Filesystem
	fail   string
	opened []string
}

func (f *failingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		f.opened = append(f.opened, name)
	}
	if name == f.fail {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(name, flag, perm)
}

func TestWriteSortedOrderAndContents(t *testing.T) {
	fs := &failingFS{Filesystem: memfs.New()}
	written, err := Write(fs, []File{
		{Path: "index.html", Contents: []byte("<html>")},
		{Path: "assets/fonts/pac.woff", Contents: []byte("woff")},
		{Path: "app.js", Contents: []byte("app")},
	})
	require.NoError(t, err)

	assert.Equal(t, []WrittenFile{
		{Path: "app.js", Size: 3, Hash: ir.ContentHash([]byte("app"))},
		{Path: "assets/fonts/pac.woff", Size: 4, Hash: ir.ContentHash([]byte("woff"))},
		{Path: "index.html", Size: 6, Hash: ir.ContentHash([]byte("<html>"))},
	}, written)
	assert.Equal(t, []string{"app.js", "assets/fonts/pac.woff", "index.html"}, fs.opened)

	data, err := util.ReadFile(fs, "assets/fonts/pac.woff")
	require.NoError(t, err)
	assert.Equal(t, "woff", string(data))
}

func TestWriteOverwrites(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "index.html", []byte("a much longer old page"), 0o644))

	_, err := Write(fs, []File{{Path: "index.html", Contents: []byte("new")}})
	require.NoError(t, err)

	data, err := util.ReadFile(fs, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteRejectsBadPathsBeforeWriting(t *testing.T) {
	for _, files := range [][]File{
		{{Path: "a.js"}, {Path: "./a.js"}},
		{{Path: "a.js"}, {Path: "../escape.js"}},
		{{Path: "a.js"}, {Path: ""}},
	} {
		fs := &failingFS{Filesystem: memfs.New()}
		_, err := Write(fs, files)
		var we *WriteError
		require.True(t, errors.As(err, &we))
		assert.Empty(t, fs.opened)
	}
}

func TestWriteFailureStopsWithoutRollback(t *testing.T) {
	fs := &failingFS{Filesystem: memfs.New(), fail: "b.js"}
	written, err := Write(fs, []File{{Path: "c.js"}, {Path: "a.js"}, {Path: "b.js"}})

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "b.js", we.Path)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, written, 1)
	assert.Equal(t, "a.js", written[0].Path)

	_, statErr := fs.Stat("a.js")
	assert.NoError(t, statErr)
	_, statErr = fs.Stat("c.js")
	assert.True(t, os.IsNotExist(statErr))
}

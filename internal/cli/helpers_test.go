package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/roach88/pagebuild/internal/testutil"
)

const buildCUE = `
build: {
	source:  "src"
	publish: "dist"

	entries: {
		index:  "index.js"
		pacman: "pacman.js"
	}

	external: {
		command: ["gopherjs", "build", "-o", "gopher/pacman.go.js"]
		output:  "gopher/pacman.go.js"
	}

	rules: [
		{test: "\\.js$", stages: ["transpile"]},
		{test: "\\.scss$", stages: ["preprocess", "prefix"]},
	]

	pages: [
		{template: "index.html", title: "Pacman"},
		{template: "pacman.html", title: "Pacman", filename: "pacman.html", exclude: ["index"]},
	]
}
`

func projectFiles() map[string]string {
	return map[string]string{
		"build.cue":            buildCUE,
		"src/index.html":       "<html><head><title>{{ .Title }}</title></head><body><iframe id=\"pacman-game\" src=\"pacman.html\"></iframe></body></html>",
		"src/pacman.html":      "<html><head><title>{{ .Title }}</title></head><body></body></html>",
		"src/index.js":         "import './styles/main.scss';\nconsole.log('index');\n",
		"src/pacman.js":        "console.log('pacman');\n",
		"src/styles/main.scss": "$c: #000;\n.PacmanGame {\n  color: $c;\n  user-select: none;\n}\n",
	}
}

// writeProject writes files into a fresh directory and returns it.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, osfs.New(dir), files)
	return dir
}

// newTestCommand returns a command whose output is captured.
func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	return cmd, buf
}

func configPath(dir string) string {
	return filepath.Join(dir, "build.cue")
}

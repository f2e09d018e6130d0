// Command pagebuild builds a static site from a declarative build definition.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/pagebuild/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code. Commands report
// their own failures; only errors raised before a command runs (unknown
// flags, bad arguments) are printed here.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return cli.ExitSuccess
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return cli.ExitCommandError
}

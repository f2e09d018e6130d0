package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pagebuild/internal/ir"
	"github.com/roach88/pagebuild/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int

	// Build shows the files of one build instead of the list.
	Build string
}

// HistoryEntry is one build in the history output.
type HistoryEntry struct {
	ID               string       `json:"id"`
	Seq              int64        `json:"seq"`
	Mode             string       `json:"mode"`
	Status           string       `json:"status"`
	DefinitionHash   string       `json:"definition_hash"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       *time.Time   `json:"finished_at,omitempty"`
	Error            string       `json:"error,omitempty"`
	ExternalExitCode *int         `json:"external_exit_code,omitempty"`
	Files            []store.File `json:"files,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds",
		Long: `List builds recorded with "pagebuild build --db", newest first.

With --build, show one build and every file it wrote.

Example:
  pagebuild history --db ./builds.db --limit 5
  pagebuild history --db ./builds.db --build 0192f1c4-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum builds to list (0 for all)")
	cmd.Flags().StringVar(&opts.Build, "build", "", "show the files written by this build")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// The history command only reads; a missing database is an error rather
	// than a new empty one.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: database not found: %s", ErrCodeNotFound, opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	if opts.Build != "" {
		b, err := st.GetBuild(ctx, opts.Build)
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, ErrCodeNotFound, err)
		}
		if err != nil {
			_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
		}
		files, err := st.BuildFiles(ctx, b.ID)
		if err != nil {
			_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
		}
		entry := toHistoryEntry(b)
		entry.Files = files
		return outputBuildDetail(formatter, entry)
	}

	builds, err := st.ListBuilds(ctx, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
	}
	entries := make([]HistoryEntry, len(builds))
	for i, b := range builds {
		entries[i] = toHistoryEntry(b)
	}
	return outputHistory(formatter, entries)
}

func toHistoryEntry(b store.Build) HistoryEntry {
	e := HistoryEntry{
		ID:               b.ID,
		Seq:              b.Seq,
		Mode:             b.Mode,
		Status:           b.Status,
		DefinitionHash:   b.DefinitionHash,
		StartedAt:        b.StartedAt,
		Error:            b.Error,
		ExternalExitCode: b.ExternalExitCode,
	}
	if !b.FinishedAt.IsZero() {
		finished := b.FinishedAt
		e.FinishedAt = &finished
	}
	return e
}

func outputHistory(formatter *OutputFormatter, entries []HistoryEntry) error {
	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No builds recorded")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tMODE\tSTATUS\tDEFINITION\tSTARTED\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.ID, e.Mode, e.Status, shortHash(e.DefinitionHash),
			e.StartedAt.Format(time.RFC3339), duration(e))
	}
	return tw.Flush()
}

func outputBuildDetail(formatter *OutputFormatter, e HistoryEntry) error {
	if formatter.Format == "json" {
		return formatter.Success(e)
	}

	fmt.Fprintf(formatter.Writer, "Build %s (#%d)\n", e.ID, e.Seq)
	fmt.Fprintf(formatter.Writer, "  mode:       %s\n", e.Mode)
	fmt.Fprintf(formatter.Writer, "  status:     %s\n", e.Status)
	fmt.Fprintf(formatter.Writer, "  definition: %s\n", e.DefinitionHash)
	fmt.Fprintf(formatter.Writer, "  started:    %s\n", e.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(formatter.Writer, "  duration:   %s\n", duration(e))
	if e.ExternalExitCode != nil {
		fmt.Fprintf(formatter.Writer, "  external:   exit %d\n", *e.ExternalExitCode)
	}
	if e.Error != "" {
		fmt.Fprintf(formatter.Writer, "  error:      %s\n", e.Error)
	}
	if len(e.Files) == 0 {
		return nil
	}

	fmt.Fprintln(formatter.Writer)
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tHASH")
	for _, f := range e.Files {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Path, f.Size, shortHash(f.ContentHash))
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > ir.FingerprintLen {
		return h[:ir.FingerprintLen]
	}
	return h
}

func duration(e HistoryEntry) string {
	if e.FinishedAt == nil {
		return "-"
	}
	return e.FinishedAt.Sub(e.StartedAt).String()
}

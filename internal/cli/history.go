package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database   string
	Server     string
	FailedOnly bool
	Limit      int
	Case       string
}

// runList is the text form of a run listing.
type runList []store.RunSummary

func (l runList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, r := range l {
		mark := "✓"
		if !r.OK() {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s  %s  %s  passed=%d failed=%d skipped=%d  %dms\n",
			mark, r.ID, r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), r.Server,
			r.Passed, r.Failed, r.Skipped, r.DurationMs)
	}
	return nil
}

// caseHistory is the text form of one case's outcomes across runs.
type caseHistory struct {
	Server   string              `json:"server"`
	Category compliance.Category `json:"category"`
	Name     string              `json:"name"`
	Outcomes []store.CaseOutcome `json:"outcomes"`
}

func (h caseHistory) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s %s/%s\n", h.Server, h.Category, h.Name)
	if len(h.Outcomes) == 0 {
		fmt.Fprintln(w, "  no outcomes recorded")
		return nil
	}
	for _, o := range h.Outcomes {
		line := fmt.Sprintf("  %-7s %s %dms", o.Status, o.RunID, o.DurationMs)
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded compliance runs",
		Long: `List runs recorded with "mcpcheck run --db", most recent first, or show
every case of one run.

With --case category/name and --server, show how one check fared across
runs, which is how flaky checks are spotted.

Example:
  mcpcheck history --db history.db --limit 10
  mcpcheck history --db history.db 0b6f8c1e-...
  mcpcheck history --db history.db --server my-server --case "tools/list tools"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Server, "server", "", "only runs of this server")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only runs with failed cases")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs (0 for all)")
	cmd.Flags().StringVar(&opts.Case, "case", "", "category/name of one case to trace across runs")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(CodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case len(args) == 1:
		res, _, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			msg := fmt.Sprintf("run %q not found", args[0])
			_ = formatter.Error(CodeStore, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		if err != nil {
			_ = formatter.Error(CodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		return formatter.Success(runReport{
			results: []*compliance.SuiteResult{res},
			styles:  newStyles(useColor(opts.RootOptions, cmd.OutOrStdout())),
		})

	case opts.Case != "":
		category, name, ok := strings.Cut(opts.Case, "/")
		if !ok || name == "" || !compliance.Category(category).Valid() {
			msg := fmt.Sprintf("invalid --case %q: want category/name", opts.Case)
			_ = formatter.Error(CodeInput, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		if opts.Server == "" {
			_ = formatter.Error(CodeInput, "--case requires --server", nil)
			return NewExitError(ExitCommandError, "--case requires --server")
		}
		outcomes, err := st.CaseHistory(ctx, opts.Server, compliance.Category(category), name, opts.Limit)
		if err != nil {
			_ = formatter.Error(CodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read case history", err)
		}
		return formatter.Success(caseHistory{
			Server:   opts.Server,
			Category: compliance.Category(category),
			Name:     name,
			Outcomes: outcomes,
		})

	default:
		runs, err := st.ListRuns(ctx, store.RunFilter{
			Server:     opts.Server,
			FailedOnly: opts.FailedOnly,
			Limit:      opts.Limit,
		})
		if err != nil {
			_ = formatter.Error(CodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return formatter.Success(runList(runs))
	}
}

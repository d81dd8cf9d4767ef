package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/storage/sqlite"
	"gopkg.in/yaml.v3"
)

type historyOptions struct {
	limit  int
	asYAML bool
}

// newHistoryCmd creates the history subcommand.
func newHistoryCmd() *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded runs",
		Long: `List recent runs from the local history database, newest first. Given a run
id, show that run's tables and restore failures.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&opts.asYAML, "yaml", false, "output as YAML")
	return cmd
}

func showHistory(ctx context.Context, w io.Writer, args []string, opts *historyOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return withCode(ExitConfigError, errors.New("run history is disabled (history.enabled)"))
	}

	db, err := sqlite.Open(cfg.History.Path)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	defer db.Close()
	store := sqlite.NewRunStore(db, 0)

	if len(args) == 1 {
		report, err := store.GetRun(ctx, args[0])
		if err != nil {
			return withCode(ExitFatal, err)
		}
		if opts.asYAML {
			return encodeYAML(w, report)
		}
		printRunDetail(w, report)
		return nil
	}

	runs, err := store.ListRuns(ctx, opts.limit)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	if opts.asYAML {
		return encodeYAML(w, runs)
	}
	printRunList(w, runs, time.Now())
	return nil
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return withCode(ExitFatal, fmt.Errorf("encode yaml: %w", err))
	}
	return enc.Close()
}

// printRunList prints one line per run.
func printRunList(w io.Writer, runs []sqlite.RunSummary, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATE\tSCN\tROWS\tFAILED\tDURATION")
	for _, r := range runs {
		state := goodFormat(string(r.State))
		switch {
		case !r.Succeeded():
			state = badFormat(fmt.Sprintf("%s after %s", r.State, r.LastState))
		case r.TableFailures+r.RestoreFailures > 0:
			state = warningFormat(string(r.State))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			state,
			r.SCN,
			humanize.Comma(r.TotalRows),
			r.TableFailures+r.RestoreFailures,
			r.Duration.Round(time.Second),
		)
	}
	tw.Flush()
}

// printRunDetail prints one run with every table.
func printRunDetail(w io.Writer, r *importer.Report) {
	fmt.Fprintf(w, "Run %s\n", boldFormat(r.RunID))
	fmt.Fprintf(w, "  State:     %s (last step %s)\n", r.State, r.LastState)
	fmt.Fprintf(w, "  Source:    %s\n", r.Link)
	fmt.Fprintf(w, "  Schemas:   %s\n", strings.Join(r.Schemas, ", "))
	fmt.Fprintf(w, "  SCN:       %s\n", r.SCN)
	fmt.Fprintf(w, "  Started:   %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  Duration:  %s\n", r.Duration.Round(time.Second))
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:     %s\n", badFormat(r.Error))
	}

	if len(r.Tables) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tROWS\tTIME\tERROR")
		for _, t := range r.Tables {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Table, humanize.Comma(t.Rows), t.Duration.Round(time.Millisecond), firstLine(t.Message))
		}
		tw.Flush()
	}

	if len(r.RestoreFailures) > 0 {
		fmt.Fprintf(w, "\n%s\n", boldFormat("Not re-enabled:"))
		for _, f := range r.RestoreFailures {
			fmt.Fprintf(w, "  %s %s  %s\n", f.Kind, f.Object, firstLine(f.Message))
		}
	}
}

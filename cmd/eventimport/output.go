package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
	"github.com/willibrandon/eventimport/internal/models"
)

var (
	mutedFormat   = color.New(color.FgHiBlack).SprintFunc()
	boldFormat    = color.New(color.Bold).SprintFunc()
	goodFormat    = color.New(color.FgGreen).SprintFunc()
	warningFormat = color.New(color.FgHiYellow).SprintFunc()
	badFormat     = color.New(color.FgHiRed).SprintFunc()
	accentFormat  = color.New(color.FgCyan).SprintFunc()
)

// maxSummaryEntries caps the logged warnings replayed after a run.
const maxSummaryEntries = 10

// stateLabels are the progress lines for each completed state.
var stateLabels = map[models.RunState]string{
	models.RunStateSchemaDropped:        "Dropped target schemas",
	models.RunStateSnapshotCaptured:     "Captured source SCN",
	models.RunStatePreHooksRun:          "Ran pre-run statements",
	models.RunStateMetadataImported:     "Imported schema metadata",
	models.RunStateConstraintsSuspended: "Disabled foreign keys and triggers",
	models.RunStateDataCopied:           "Copied table rows",
	models.RunStatePostHooksRun:         "Ran post-run statements",
	models.RunStateConstraintsRestored:  "Re-enabled foreign keys and triggers",
	models.RunStateDone:                 "Done",
}

func printProgress(w io.Writer, update importer.ProgressUpdate) {
	label, ok := stateLabels[update.State]
	if !ok {
		label = string(update.State)
	}
	fmt.Fprintf(w, "%s %s %s\n", mutedFormat(update.At.Format("15:04:05")), goodFormat("✓"), label)
}

// printSummary prints the end-of-run summary.
func printSummary(w io.Writer, r *importer.Report) {
	fmt.Fprintln(w)
	switch {
	case !r.Succeeded():
		fmt.Fprintf(w, "%s after %s\n", badFormat("Run failed"), string(r.LastState))
	case r.HasFailures():
		fmt.Fprintln(w, warningFormat("Run completed with failures"))
	default:
		fmt.Fprintln(w, goodFormat("Run completed"))
	}

	fmt.Fprintf(w, "  Run ID:    %s\n", r.RunID)
	fmt.Fprintf(w, "  Source:    %s\n", r.Link)
	if !r.SCN.IsZero() {
		fmt.Fprintf(w, "  SCN:       %s\n", accentFormat(r.SCN.String()))
	}
	fmt.Fprintf(w, "  Duration:  %s\n", r.Duration.Round(time.Second))
	fmt.Fprintf(w, "  Rows:      %s in %d tables\n", humanize.Comma(r.TotalRows()), len(r.Tables))

	if failed := r.FailedTables(); len(failed) > 0 {
		fmt.Fprintf(w, "\n%s\n", boldFormat(fmt.Sprintf("Failed tables (%d):", len(failed))))
		for _, t := range failed {
			fmt.Fprintf(w, "  %s  %s\n", badFormat(t.Table.String()), firstLine(t.Message))
		}
	}

	if len(r.RestoreFailures) > 0 {
		fmt.Fprintf(w, "\n%s\n", boldFormat(fmt.Sprintf("Not re-enabled (%d):", len(r.RestoreFailures))))
		for _, f := range r.RestoreFailures {
			fmt.Fprintf(w, "  %s %s  %s\n", f.Kind, badFormat(f.Object), firstLine(f.Message))
		}
	}

	if len(r.OrderViolations) > 0 {
		fmt.Fprintf(w, "\n%s\n", boldFormat("Table order warnings:"))
		for _, v := range r.OrderViolations {
			fmt.Fprintf(w, "  %s\n", warningFormat(v.String()))
		}
	}

	if r.StillSuspended() {
		fmt.Fprintf(w, "\n%s\n", badFormat("These objects are still disabled on the target:"))
		for _, c := range r.Constraints {
			fmt.Fprintf(w, "  constraint %s\n", c)
		}
		for _, t := range r.Triggers {
			fmt.Fprintf(w, "  trigger %s\n", t)
		}
	}

	if r.Error != "" {
		fmt.Fprintf(w, "\n%s %s\n", badFormat("Error:"), r.Error)
	}

	if entries := logger.GetEntries(); len(entries) > 0 {
		shown := entries
		if len(shown) > maxSummaryEntries {
			shown = shown[len(shown)-maxSummaryEntries:]
		}
		fmt.Fprintf(w, "\n%s\n", boldFormat(fmt.Sprintf("Logged warnings and errors (last %d):", len(shown))))
		for _, e := range shown {
			line := firstLine(e.Format())
			if e.Level >= slog.LevelError {
				line = badFormat(line)
			} else {
				line = warningFormat(line)
			}
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if warns, errs := logger.GetCounts(); warns+errs > 0 {
		fmt.Fprintf(w, "\n%s\n", mutedFormat(fmt.Sprintf("%d warnings, %d errors logged to %s", warns, errs, logger.LogPath)))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

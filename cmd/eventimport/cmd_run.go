package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/willibrandon/eventimport/internal/config"
	"github.com/willibrandon/eventimport/internal/datapump"
	"github.com/willibrandon/eventimport/internal/eventcodes"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
	"github.com/willibrandon/eventimport/internal/oracle"
	"github.com/willibrandon/eventimport/internal/runlock"
	"github.com/willibrandon/eventimport/internal/storage/sqlite"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	strict     bool
	reportFile string
	noHistory  bool
	params     []string
}

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [EVENT_CODE...]",
		Short: "Import the configured schemas and the rows of the given events",
		Long: `Recreate the configured schemas on the target and copy the filtered rows of
the configured tables from the source, all as of one source SCN.

Event product codes are translated to event ids with event_lookup.query and
passed to filters as a comma separated list in the event_lookup.param
parameter (default :eventid).

Exit codes:
  0  run completed
  1  run failed, or bad usage
  2  run completed with failed tables or restores (only with --strict)
  3  invalid configuration`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with code 2 when any table copy or restore failed")
	cmd.Flags().StringVar(&opts.reportFile, "report-file", "", "write the run report as YAML to this file")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "do not record the run in the history database")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "extra filter parameter name=value (repeatable)")
	return cmd
}

func runImport(parent context.Context, codes []string, opts *runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	defer logger.Close()

	lock, err := runlock.Acquire(cfg.LockPath)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release run lock", "path", cfg.LockPath, "error", err)
		}
	}()

	ctx, stop := signalContext(parent)
	defer stop()

	db, err := oracle.Open(ctx, cfg.Target)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	defer db.Close()

	session, err := oracle.NewSession(ctx, db)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	defer session.Release()

	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	extra, err := resolveEventParams(ctx, cfg, session, codes, params)
	if err != nil {
		return err
	}

	plan, err := cfg.Plan(extra)
	if err != nil {
		return withCode(ExitConfigError, err)
	}

	deps := importer.Deps{
		Conn:   session,
		Jobs:   datapump.New(session, datapump.Options{PollInterval: cfg.Provisioning.PollInterval}),
		Logger: importer.NewLogger(logger.Logger()),
	}
	if cfg.Copy.ParallelWorkers > 1 {
		deps.Pool = oracle.NewPool(db)
	}

	if cfg.History.Enabled && !opts.noHistory {
		hdb, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("Run history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer hdb.Close()
			deps.Recorder = sqlite.NewRunStore(hdb, 0)
		}
	}

	runner := importer.NewRunner(plan, deps, importer.Options{
		JobTimeout:        cfg.Provisioning.JobTimeout,
		FlashbackMetadata: cfg.Provisioning.FlashbackMetadata,
		Workers:           cfg.Copy.ParallelWorkers,
		CheckOrder:        cfg.Copy.CheckOrder,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range runner.Progress() {
			printProgress(os.Stdout, update)
		}
	}()

	report, runErr := runner.Run(ctx)
	<-done

	if report != nil {
		printSummary(os.Stdout, report)
		if opts.reportFile != "" {
			if err := writeReport(opts.reportFile, report); err != nil {
				logger.Error("Failed to write report", "path", opts.reportFile, "error", err)
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}

	return runExitError(report, runErr, opts.strict)
}

// resolveEventParams turns event codes into the event id parameter. Codes are
// optional when the parameter is already set by config or --param.
func resolveEventParams(ctx context.Context, cfg *config.Config, conn importer.Conn, codes []string, params map[string]string) (map[string]string, error) {
	extra := make(map[string]string, len(params)+1)
	for k, v := range params {
		extra[k] = v
	}

	name := cfg.EventLookup.Param
	if len(codes) == 0 {
		if _, ok := extra[name]; ok {
			return extra, nil
		}
		if _, ok := cfg.Params[name]; ok {
			return extra, nil
		}
		return nil, withCode(ExitFatal, eventcodes.ErrNoCodes)
	}

	lookupParams := map[string]string{
		importer.SourceAliasParam:   cfg.Source.Link,
		importer.SourceCurrentParam: cfg.Source.Link,
	}
	ids, err := eventcodes.Lookup(ctx, conn, cfg.EventLookup.Query, lookupParams, codes)
	if err != nil {
		return nil, withCode(ExitFatal, err)
	}
	logger.Info("Resolved event codes", "codes", codes, name, ids)
	extra[name] = ids
	return extra, nil
}

// runExitError maps the run outcome to an exit code.
func runExitError(report *importer.Report, runErr error, strict bool) error {
	if runErr != nil {
		return withCode(ExitFatal, runErr)
	}
	if strict && report != nil && report.HasFailures() {
		return withCode(ExitRecoverable, errors.New("run completed with failures"))
	}
	return nil
}

func writeReport(path string, report *importer.Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

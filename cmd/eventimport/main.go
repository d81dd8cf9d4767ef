package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/willibrandon/eventimport/internal/config"
	"github.com/willibrandon/eventimport/internal/logger"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitFatal       = 1
	ExitRecoverable = 2
	ExitConfigError = 3
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventimport",
		Short: "Copy a consistent subset of a production Oracle database",
		Long: `eventimport recreates a set of schemas on a target Oracle database and copies
a filtered, point-in-time consistent subset of their rows across a database
link from the source.

Commands:
  eventimport run EVENT_CODE...      Import the events with these product codes
  eventimport plan [--sql --scn N]   Show what a run would do
  eventimport history [RUN_ID]       Show past runs
  eventimport kill-sessions USER     Terminate every session of USER`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/eventimport/eventimport.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newHistoryCmd(),
		newKillSessionsCmd(),
	)
	return rootCmd
}

// exitCode maps a command error to the process exit code and prints it.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitFatal
}

// loadConfig loads the configuration from --config or the default locations.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withCode(ExitConfigError, fmt.Errorf("loading config: %w", err))
	}
	return cfg, nil
}

// initLogging starts the file logger with warnings echoed to stderr.
func initLogging(cfg *config.Config) {
	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = logger.LevelDebug
	}
	logger.InitLogger(level, cfg.Log.Path, os.Stderr)
	if debug {
		fmt.Fprintf(os.Stderr, "Debug mode: Logs written to %s\n", logger.LogPath)
		logger.Debug("eventimport starting", "version", version, "config", configPath)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// parseParams parses repeated name=value flags. Values may contain commas and
// names are lowercased to match configured params.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, withCode(ExitFatal, fmt.Errorf("--param %q must be name=value", p))
		}
		params[name] = value
	}
	return params, nil
}

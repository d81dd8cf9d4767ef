package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/willibrandon/eventimport/internal/logger"
	"github.com/willibrandon/eventimport/internal/oracle"
)

// newKillSessionsCmd creates the kill-sessions subcommand.
func newKillSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-sessions USER",
		Short: "Terminate every session of a database user",
		Long: `Kill every session of USER on the target except this command's own, so the
user's schema can be dropped. Needs the ALTER SYSTEM privilege.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return killSessions(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func killSessions(parent context.Context, w io.Writer, username string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	defer logger.Close()

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

	self, err := session.SessionID(ctx)
	if err != nil {
		return withCode(ExitFatal, err)
	}

	killed, err := oracle.KillSessions(ctx, session, username, self)
	if err != nil {
		return withCode(ExitFatal, err)
	}

	failed := 0
	for _, k := range killed {
		if k.Err != nil {
			failed++
			fmt.Fprintf(w, "%s session %s,%s: %v\n", badFormat("✗"), k.SID, k.Serial, k.Err)
			continue
		}
		fmt.Fprintf(w, "%s killed session %s,%s\n", goodFormat("✓"), k.SID, k.Serial)
	}
	if len(killed) == 0 {
		fmt.Fprintf(w, "No sessions for %s.\n", username)
	}
	if failed > 0 {
		return withCode(ExitRecoverable, fmt.Errorf("%d of %d sessions could not be killed", failed, len(killed)))
	}
	return nil
}

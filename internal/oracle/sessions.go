package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
)

const userSessionsQuery = `
	select to_char(sid), to_char(serial#) from v$session
	 where username = :1
	 order by sid`

// KilledSession is a session terminated by KillSessions.
type KilledSession struct {
	SID    string
	Serial string
	Err    error
}

// KillSessions terminates every session of username except the caller's
// own session, identified by selfSID. Sessions are read in full before any
// is killed. A failed kill is recorded and the rest are still attempted.
func KillSessions(ctx context.Context, conn importer.Conn, username, selfSID string) ([]KilledSession, error) {
	rows, err := conn.Query(ctx, userSessionsQuery, strings.ToUpper(username))
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", username, err)
	}

	var targets []KilledSession
	for rows.Next() {
		var s KilledSession
		if err := rows.Scan(&s.SID, &s.Serial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.SID == selfSID {
			continue
		}
		targets = append(targets, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", username, err)
	}

	for i := range targets {
		stmt := KillStatement(targets[i].SID, targets[i].Serial)
		if _, err := conn.Exec(ctx, stmt); err != nil {
			targets[i].Err = err
			logger.Warn("Failed to kill session", "sid", targets[i].SID, "serial", targets[i].Serial, "error", err)
			continue
		}
		logger.Info("Killed session", "user", username, "sid", targets[i].SID, "serial", targets[i].Serial)
	}
	return targets, nil
}

// KillStatement returns the statement that terminates one session.
func KillStatement(sid, serial string) string {
	return fmt.Sprintf("alter system kill session '%s,%s' immediate", sid, serial)
}

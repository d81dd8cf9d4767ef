// Package oracle opens target database sessions with the go-ora driver and
// adapts them to the importer's connection interfaces.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	go_ora "github.com/sijms/go-ora/v2"
	"github.com/willibrandon/eventimport/internal/config"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
)

// DriverName is the database/sql driver registered by go-ora.
const DriverName = "oracle"

// DefaultPort is the default listener port.
const DefaultPort = 1521

// BuildDSN builds a go-ora connection URL from the target configuration.
func BuildDSN(cfg config.TargetConfig, password string) string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	options := make(map[string]string, len(cfg.Options))
	for k, v := range cfg.Options {
		options[k] = v
	}
	if _, ok := options["TIMEOUT"]; !ok && cfg.ConnectTimeout > 0 {
		options["TIMEOUT"] = fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds()))
	}
	return go_ora.BuildUrl(cfg.Host, port, cfg.Service, cfg.User, password, options)
}

// Open opens a database handle to the target and verifies it with a ping.
// The password comes from GetPassword. Failed pings are retried
// cfg.ConnectRetries times with exponential backoff.
func Open(ctx context.Context, cfg config.TargetConfig) (*sql.DB, error) {
	logger.Debug("Opening target database",
		"host", cfg.Host,
		"port", cfg.Port,
		"service", cfg.Service,
		"user", cfg.User,
	)

	password, err := GetPassword(cfg.PasswordCommand)
	if err != nil {
		logger.Error("Failed to retrieve password", "error", err)
		return nil, fmt.Errorf("failed to retrieve password: %w", err)
	}

	dsn := BuildDSN(cfg, password)
	db, err := retry(ctx, NewRetryState(cfg.ConnectRetries), func(ctx context.Context) (*sql.DB, error) {
		return connect(ctx, dsn, cfg.ConnectTimeout)
	})
	if err != nil {
		logger.Error("Failed to connect to target database", "host", cfg.Host, "service", cfg.Service, "error", err)
		return nil, err
	}

	logger.Info("Connected to target database", "host", cfg.Host, "service", cfg.Service, "user", cfg.User)
	return db, nil
}

func connect(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Oracle connection: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Minute)

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Oracle: %w", err)
	}
	return db, nil
}

// Session is one dedicated connection. Statements run outside any explicit
// transaction, so each commits on its own.
type Session struct {
	conn *sql.Conn
}

// NewSession reserves a connection from db.
func NewSession(ctx context.Context, db *sql.DB) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Exec runs a statement and returns the number of rows it affected.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// DDL and PL/SQL report no row count.
		return 0, nil
	}
	return n, nil
}

// Query runs a query on the session.
func (s *Session) Query(ctx context.Context, query string, args ...any) (importer.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Raw returns the underlying connection.
func (s *Session) Raw() *sql.Conn {
	return s.conn
}

// Release returns the connection to the pool.
func (s *Session) Release() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// SessionID returns the server-side SID of the session.
func (s *Session) SessionID(ctx context.Context) (string, error) {
	var sid string
	err := s.conn.QueryRowContext(ctx, "select sys_context('USERENV', 'SID') from dual").Scan(&sid)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	return sid, nil
}

// Pool hands out extra sessions for parallel table copies.
type Pool struct {
	db *sql.DB
}

// NewPool creates a pool over db.
func NewPool(db *sql.DB) *Pool {
	return &Pool{db: db}
}

// Acquire reserves a new session.
func (p *Pool) Acquire(ctx context.Context) (importer.Session, error) {
	s, err := NewSession(ctx, p.db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var (
	_ importer.Session     = (*Session)(nil)
	_ importer.SessionPool = (*Pool)(nil)
)

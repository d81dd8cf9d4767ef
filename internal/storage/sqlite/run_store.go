package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/models"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DefaultRetention is the number of runs kept after each insert.
const DefaultRetention = 500

// RunSummary is one row of the run list.
type RunSummary struct {
	RunID                string                  `yaml:"run_id"`
	Link                 string                  `yaml:"link"`
	Schemas              []string                `yaml:"schemas"`
	State                models.RunState         `yaml:"state"`
	LastState            models.RunState         `yaml:"last_state"`
	SCN                  models.ConsistencyToken `yaml:"scn"`
	TotalRows            int64                   `yaml:"total_rows"`
	TableFailures        int                     `yaml:"table_failures"`
	RestoreFailures      int                     `yaml:"restore_failures"`
	SuspendedConstraints int                     `yaml:"suspended_constraints"`
	SuspendedTriggers    int                     `yaml:"suspended_triggers"`
	StartedAt            time.Time               `yaml:"started_at"`
	FinishedAt           time.Time               `yaml:"finished_at"`
	Duration             time.Duration           `yaml:"duration"`
	Error                string                  `yaml:"error,omitempty"`
}

// Succeeded returns true if the run reached done.
func (s RunSummary) Succeeded() bool {
	return s.State == models.RunStateDone
}

// RunStore persists import run reports.
type RunStore struct {
	db        *DB
	retention int
}

// NewRunStore creates a run store keeping the most recent retention runs.
// A non-positive retention uses DefaultRetention.
func NewRunStore(db *DB, retention int) *RunStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RunStore{db: db, retention: retention}
}

// RecordRun saves a finished run with its table results and restore
// failures in one transaction. Recording a run id twice replaces it.
func (s *RunStore) RecordRun(ctx context.Context, r *importer.Report) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	errText := r.Error
	if errText == "" && r.Err != nil {
		errText = r.Err.Error()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("replace run %s: %w", r.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, link, schemas, state, last_state, scn, total_rows,
			table_failures, restore_failures, suspended_constraints, suspended_triggers,
			started_at, finished_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Link, strings.Join(r.Schemas, ","), string(r.State), string(r.LastState),
		int64(r.SCN), r.TotalRows(), len(r.FailedTables()), len(r.RestoreFailures),
		len(r.Constraints), len(r.Triggers), r.StartedAt, r.FinishedAt,
		r.Duration.Milliseconds(), errText)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	for i, t := range r.Tables {
		msg := t.Message
		if msg == "" && t.Err != nil {
			msg = t.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO table_results (run_id, position, schema_name, table_name, rows, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, i, t.Table.Schema, t.Table.Table, t.Rows, t.Duration.Milliseconds(), msg)
		if err != nil {
			return fmt.Errorf("insert table result %s: %w", t.Table, err)
		}
	}

	for _, f := range r.RestoreFailures {
		msg := f.Message
		if msg == "" && f.Err != nil {
			msg = f.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO restore_failures (run_id, kind, object, statement, error)
			VALUES (?, ?, ?, ?, ?)
		`, r.RunID, string(f.Kind), f.Object, f.Statement, msg)
		if err != nil {
			return fmt.Errorf("insert restore failure %s: %w", f.Object, err)
		}
	}

	// Keep the last N runs; children go with ON DELETE CASCADE.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE run_id NOT IN (
			SELECT run_id FROM runs
			ORDER BY started_at DESC
			LIMIT ?
		)
	`, s.retention)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT run_id, link, schemas, state, last_state, scn, total_rows,
			table_failures, restore_failures, suspended_constraints, suspended_triggers,
			started_at, finished_at, duration_ms, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun loads one run with its table results and restore failures.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*importer.Report, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT run_id, link, schemas, state, last_state, scn, total_rows,
			table_failures, restore_failures, suspended_constraints, suspended_triggers,
			started_at, finished_at, duration_ms, error
		FROM runs
		WHERE run_id = ?
	`, runID)

	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	report := &importer.Report{
		RunID:      summary.RunID,
		Link:       summary.Link,
		Schemas:    summary.Schemas,
		State:      summary.State,
		LastState:  summary.LastState,
		SCN:        summary.SCN,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Duration:   summary.Duration,
		Error:      summary.Error,
	}

	if report.Tables, err = s.tableResults(ctx, runID); err != nil {
		return nil, err
	}
	if report.RestoreFailures, err = s.restoreFailures(ctx, runID); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *RunStore) tableResults(ctx context.Context, runID string) ([]importer.CopyResult, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT schema_name, table_name, rows, duration_ms, error
		FROM table_results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load table results: %w", err)
	}
	defer rows.Close()

	var results []importer.CopyResult
	for rows.Next() {
		var (
			r          importer.CopyResult
			durationMs int64
		)
		if err := rows.Scan(&r.Table.Schema, &r.Table.Table, &r.Rows, &durationMs, &r.Message); err != nil {
			return nil, fmt.Errorf("scan table result: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if r.Message != "" {
			r.Err = errors.New(r.Message)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *RunStore) restoreFailures(ctx context.Context, runID string) ([]importer.RestoreFailure, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT kind, object, statement, error
		FROM restore_failures
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load restore failures: %w", err)
	}
	defer rows.Close()

	var failures []importer.RestoreFailure
	for rows.Next() {
		var (
			f    importer.RestoreFailure
			kind string
		)
		if err := rows.Scan(&kind, &f.Object, &f.Statement, &f.Message); err != nil {
			return nil, fmt.Errorf("scan restore failure: %w", err)
		}
		f.Kind = importer.ObjectKind(kind)
		if f.Message != "" {
			f.Err = errors.New(f.Message)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Count returns the number of recorded runs.
func (s *RunStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var (
		s                RunSummary
		schemas          string
		state, lastState string
		scn, durationMs  int64
	)
	err := row.Scan(&s.RunID, &s.Link, &schemas, &state, &lastState, &scn, &s.TotalRows,
		&s.TableFailures, &s.RestoreFailures, &s.SuspendedConstraints, &s.SuspendedTriggers,
		&s.StartedAt, &s.FinishedAt, &durationMs, &s.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("scan run: %w", err)
	}
	if schemas != "" {
		s.Schemas = strings.Split(schemas, ",")
	}
	s.State = models.RunState(state)
	s.LastState = models.RunState(lastState)
	s.SCN = models.ConsistencyToken(scn)
	s.Duration = time.Duration(durationMs) * time.Millisecond
	return s, nil
}

var _ importer.Recorder = (*RunStore)(nil)

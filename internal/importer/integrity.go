package importer

import (
	"context"
	"fmt"

	"github.com/willibrandon/eventimport/internal/models"
)

const enabledForeignKeysQuery = `
	select constraint_name from all_constraints
	 where owner = :1 and table_name = :2
	   and constraint_type = 'R' and status = 'ENABLED'
	 order by constraint_name`

const enabledTriggersQuery = `
	select owner, trigger_name from all_triggers
	 where table_owner = :1 and table_name = :2 and status = 'ENABLED'
	 order by owner, trigger_name`

// ObjectKind distinguishes the integrity objects a run suspends.
type ObjectKind string

const (
	ObjectConstraint ObjectKind = "constraint"
	ObjectTrigger    ObjectKind = "trigger"
)

// RestoreFailure records an object that could not be re-enabled.
type RestoreFailure struct {
	Kind      ObjectKind `json:"kind" yaml:"kind"`
	Object    string     `json:"object" yaml:"object"`
	Statement string     `json:"statement" yaml:"statement"`
	Err       error      `json:"-" yaml:"-"`
	Message   string     `json:"error" yaml:"error"`
}

// Suspender disables foreign keys and triggers on the copy set and
// re-enables exactly the objects it disabled.
type Suspender struct {
	conn   Conn
	logger *Logger
}

// NewSuspender creates a suspender running on conn.
func NewSuspender(conn Conn, logger *Logger) *Suspender {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Suspender{conn: conn, logger: logger}
}

// Disable turns off every enabled foreign key owned by, and every enabled
// trigger on, the given tables. The first failure stops the walk; the objects
// disabled up to that point are returned with the error.
func (s *Suspender) Disable(ctx context.Context, tables []models.TableRef) ([]models.SuspendedConstraint, []models.SuspendedTrigger, error) {
	var constraints []models.SuspendedConstraint
	var triggers []models.SuspendedTrigger

	for _, table := range tables {
		names, err := s.enabledForeignKeys(ctx, table)
		if err != nil {
			return constraints, triggers, fmt.Errorf("%w: list foreign keys on %s: %v", ErrConstraintSuspendFailed, table, err)
		}
		for _, name := range names {
			c := models.SuspendedConstraint{Owner: table.Schema, Table: table.Table, Name: name}
			stmt := constraintStatement(c, "disable")
			if _, err := s.conn.Exec(ctx, stmt); err != nil {
				return constraints, triggers, fmt.Errorf("%w: %s: %v", ErrConstraintSuspendFailed, c, err)
			}
			constraints = append(constraints, c)
			s.logger.Log(RunEvent{Level: "debug", Event: EventObjectDisabled, Object: c.String(), Table: table.String()})
		}

		trigs, err := s.enabledTriggers(ctx, table)
		if err != nil {
			return constraints, triggers, fmt.Errorf("%w: list triggers on %s: %v", ErrConstraintSuspendFailed, table, err)
		}
		for _, trg := range trigs {
			stmt := triggerStatement(trg, "disable")
			if _, err := s.conn.Exec(ctx, stmt); err != nil {
				return constraints, triggers, fmt.Errorf("%w: trigger %s: %v", ErrConstraintSuspendFailed, trg, err)
			}
			triggers = append(triggers, trg)
			s.logger.Log(RunEvent{Level: "debug", Event: EventObjectDisabled, Object: trg.String(), Table: table.String()})
		}
	}

	return constraints, triggers, nil
}

// Restore re-enables the recorded constraints and then the recorded
// triggers. Failures are logged and returned; they never stop the loop.
func (s *Suspender) Restore(ctx context.Context, constraints []models.SuspendedConstraint, triggers []models.SuspendedTrigger) []RestoreFailure {
	var failures []RestoreFailure

	for _, c := range constraints {
		stmt := constraintStatement(c, "enable")
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			failures = append(failures, s.restoreFailed(ObjectConstraint, c.String(), stmt, err))
		}
	}

	for _, trg := range triggers {
		stmt := triggerStatement(trg, "enable")
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			failures = append(failures, s.restoreFailed(ObjectTrigger, trg.String(), stmt, err))
		}
	}

	return failures
}

func (s *Suspender) restoreFailed(kind ObjectKind, object, stmt string, err error) RestoreFailure {
	wrapped := fmt.Errorf("%w: %s %s: %v", ErrConstraintRestoreFailed, kind, object, err)
	s.logger.LogRestoreFailed(object, err)
	return RestoreFailure{
		Kind:      kind,
		Object:    object,
		Statement: stmt,
		Err:       wrapped,
		Message:   err.Error(),
	}
}

// enabledForeignKeys reads all names before any ALTER runs on the session.
func (s *Suspender) enabledForeignKeys(ctx context.Context, table models.TableRef) ([]string, error) {
	rows, err := s.conn.Query(ctx, enabledForeignKeysQuery, table.Schema, table.Table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Suspender) enabledTriggers(ctx context.Context, table models.TableRef) ([]models.SuspendedTrigger, error) {
	rows, err := s.conn.Query(ctx, enabledTriggersQuery, table.Schema, table.Table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []models.SuspendedTrigger
	for rows.Next() {
		var trg models.SuspendedTrigger
		if err := rows.Scan(&trg.Owner, &trg.Name); err != nil {
			return nil, err
		}
		triggers = append(triggers, trg)
	}
	return triggers, rows.Err()
}

func constraintStatement(c models.SuspendedConstraint, action string) string {
	return fmt.Sprintf("alter table %s.%s %s constraint %s",
		models.QuoteIdent(c.Owner), models.QuoteIdent(c.Table), action, models.QuoteIdent(c.Name))
}

func triggerStatement(t models.SuspendedTrigger, action string) string {
	return fmt.Sprintf("alter trigger %s.%s %s", models.QuoteIdent(t.Owner), models.QuoteIdent(t.Name), action)
}

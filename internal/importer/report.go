package importer

import (
	"context"
	"time"

	"github.com/willibrandon/eventimport/internal/models"
)

// Report is the outcome of one run. A fatal error leaves State at failed and
// LastState at the last step that completed; recoverable failures are listed
// per table and per restored object.
type Report struct {
	RunID           string                       `json:"run_id" yaml:"run_id"`
	Link            string                       `json:"link" yaml:"link"`
	Schemas         []string                     `json:"schemas" yaml:"schemas"`
	State           models.RunState              `json:"state" yaml:"state"`
	LastState       models.RunState              `json:"last_state" yaml:"last_state"`
	SCN             models.ConsistencyToken      `json:"scn" yaml:"scn"`
	Tables          []CopyResult                 `json:"tables" yaml:"tables"`
	Constraints     []models.SuspendedConstraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Triggers        []models.SuspendedTrigger    `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	RestoreFailures []RestoreFailure             `json:"restore_failures,omitempty" yaml:"restore_failures,omitempty"`
	OrderViolations []OrderViolation             `json:"order_violations,omitempty" yaml:"order_violations,omitempty"`
	StartedAt       time.Time                    `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time                    `json:"finished_at" yaml:"finished_at"`
	Duration        time.Duration                `json:"duration" yaml:"duration"`
	Err             error                        `json:"-" yaml:"-"`
	Error           string                       `json:"error,omitempty" yaml:"error,omitempty"`
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Succeeded returns true if the run reached done.
func (r *Report) Succeeded() bool {
	return r.State == models.RunStateDone && r.Err == nil
}

// HasFailures returns true if any table copy or restore failed.
func (r *Report) HasFailures() bool {
	return len(r.FailedTables()) > 0 || len(r.RestoreFailures) > 0
}

// FailedTables returns the results of tables whose copy failed.
func (r *Report) FailedTables() []CopyResult {
	var failed []CopyResult
	for _, t := range r.Tables {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}

// TotalRows returns the number of rows copied across all tables.
func (r *Report) TotalRows() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Rows
	}
	return total
}

// StillSuspended reports whether a failed run left integrity objects
// disabled on the target. A failed disable step also counts: the objects it
// managed to disable stay off.
func (r *Report) StillSuspended() bool {
	if r.State != models.RunStateFailed {
		return false
	}
	switch r.LastState {
	case models.RunStateConstraintsRestored, models.RunStateDone:
		return false
	}
	return len(r.Constraints) > 0 || len(r.Triggers) > 0
}

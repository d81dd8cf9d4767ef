package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TableRef identifies a table by owning schema and name.
type TableRef struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
}

// Validate checks that both parts of the reference are set.
func (t TableRef) Validate() error {
	if strings.TrimSpace(t.Schema) == "" {
		return ErrSchemaRequired
	}
	if strings.TrimSpace(t.Table) == "" {
		return ErrTableRequired
	}
	return nil
}

// Key returns the case-insensitive identity of the table, e.g. "JADE.EVENT".
func (t TableRef) Key() string {
	return strings.ToUpper(t.Schema) + "." + strings.ToUpper(t.Table)
}

// Quoted returns the table as a quoted SQL identifier, e.g. "JADE"."EVENT".
func (t TableRef) Quoted() string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Table)
}

// String returns the unquoted schema.table form.
func (t TableRef) String() string {
	return t.Schema + "." + t.Table
}

// QuoteIdent wraps an identifier in double quotes, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ConsistencyToken is the source SCN every read of a run is pinned to.
type ConsistencyToken uint64

// String returns the decimal form used inside SQL text.
func (t ConsistencyToken) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// IsZero returns true if no token has been captured.
func (t ConsistencyToken) IsZero() bool {
	return t == 0
}

// SuspendedConstraint is a foreign key disabled by a run.
type SuspendedConstraint struct {
	Owner string `json:"owner" yaml:"owner"`
	Table string `json:"table" yaml:"table"`
	Name  string `json:"name" yaml:"name"`
}

// String returns owner.table.constraint.
func (c SuspendedConstraint) String() string {
	return fmt.Sprintf("%s.%s.%s", c.Owner, c.Table, c.Name)
}

// SuspendedTrigger is a trigger disabled by a run.
type SuspendedTrigger struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String returns owner.trigger.
func (t SuspendedTrigger) String() string {
	return t.Owner + "." + t.Name
}

// JobStatus is the terminal state reported by a metadata import job.
type JobStatus string

const (
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusStopped    JobStatus = "STOPPED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusNotRunning JobStatus = "NOT RUNNING"
	JobStatusTimedOut   JobStatus = "TIMED OUT"
)

// IsTerminal returns true if the job will not change state again on its own.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusStopped, JobStatusFailed, JobStatusNotRunning, JobStatusTimedOut:
		return true
	}
	return false
}

// IsSuccess returns true only for a completed job.
func (s JobStatus) IsSuccess() bool {
	return s == JobStatusCompleted
}

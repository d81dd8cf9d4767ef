package importer

import (
	"errors"
	"fmt"

	"github.com/willibrandon/eventimport/internal/models"
)

// Fatal run errors. Any of these stops the run.
var (
	ErrSourceUnavailable       = errors.New("source unavailable")
	ErrSchemaProvisionFailed   = errors.New("schema provisioning failed")
	ErrConstraintSuspendFailed = errors.New("constraint suspension failed")
	ErrHookFailed              = errors.New("hook failed")
)

// Recoverable per-item errors. These are reported and the run continues.
var (
	ErrTableCopyFailed         = errors.New("table copy failed")
	ErrConstraintRestoreFailed = errors.New("constraint restore failed")
)

// Plan errors.
var (
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrDuplicateTable     = errors.New("table registered twice")
	ErrForwardReference   = errors.New("filter references a table not copied before it")
	ErrRunAlreadyExecuted = errors.New("runner already executed")
)

// StepError is a fatal error tagged with the state the run was moving to
// and the state it last completed.
type StepError struct {
	Step      models.RunState
	LastState models.RunState
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (last completed state %s): %v", e.Step, e.LastState, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err belongs to the fatal part of the taxonomy.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrSchemaProvisionFailed) ||
		errors.Is(err, ErrConstraintSuspendFailed) ||
		errors.Is(err, ErrHookFailed)
}

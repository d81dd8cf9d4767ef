package importer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/willibrandon/eventimport/internal/models"
)

// EventType identifies the type of import event.
type EventType string

const (
	EventRunStarted        EventType = "run.started"
	EventRunCompleted      EventType = "run.completed"
	EventRunFailed         EventType = "run.failed"
	EventStateChange       EventType = "run.state_change"
	EventPhaseStarted      EventType = "phase.started"
	EventPhaseCompleted    EventType = "phase.completed"
	EventSchemaDropped     EventType = "schema.dropped"
	EventJobFinished       EventType = "job.finished"
	EventObjectDisabled    EventType = "integrity.disabled"
	EventRestoreFailed     EventType = "integrity.restore_failed"
	EventHookExecuted      EventType = "hook.executed"
	EventTableCopied       EventType = "table.copied"
	EventTableFailed       EventType = "table.failed"
	EventWorkerUnavailable EventType = "copy.worker_unavailable"
	EventOrderViolation    EventType = "plan.order_violation"
	EventUnresolvedParam   EventType = "plan.unresolved_param"
)

// RunEvent is a structured import event.
type RunEvent struct {
	Timestamp     time.Time               `json:"timestamp"`
	Level         string                  `json:"level"`
	Event         EventType               `json:"event"`
	RunID         string                  `json:"run_id,omitempty"`
	SCN           models.ConsistencyToken `json:"scn,omitempty"`
	Table         string                  `json:"table,omitempty"`
	Object        string                  `json:"object,omitempty"`
	Rows          int64                   `json:"rows,omitempty"`
	RowsPerSec    float64                 `json:"rows_per_sec,omitempty"`
	DurationMs    int64                   `json:"duration_ms,omitempty"`
	Phase         string                  `json:"phase,omitempty"`
	PreviousState models.RunState         `json:"previous_state,omitempty"`
	NewState      models.RunState         `json:"new_state,omitempty"`
	Statement     string                  `json:"statement,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Details       map[string]any          `json:"details,omitempty"`
}

// Logger emits import events through slog.
type Logger struct {
	slog  *slog.Logger
	runID string
}

// NewLogger creates an event logger. A nil logger falls back to slog.Default.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{slog: logger}
}

// ForRun returns a logger that stamps every event with runID.
func (l *Logger) ForRun(runID string) *Logger {
	return &Logger{slog: l.slog, runID: runID}
}

// Log emits a structured event.
func (l *Logger) Log(event RunEvent) {
	event.Timestamp = time.Now()
	if event.Level == "" {
		event.Level = "info"
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	data, _ := json.Marshal(event)

	args := []any{"event", string(data)}
	if event.Table != "" {
		args = append(args, "table", event.Table)
	}
	if event.Object != "" {
		args = append(args, "object", event.Object)
	}
	if event.Error != "" {
		args = append(args, "error", event.Error)
	}

	switch event.Level {
	case "error":
		l.slog.Error(string(event.Event), args...)
	case "warn":
		l.slog.Warn(string(event.Event), args...)
	case "debug":
		l.slog.Debug(string(event.Event), args...)
	default:
		l.slog.Info(string(event.Event), args...)
	}
}

// LogRunStarted logs the start of a run.
func (l *Logger) LogRunStarted(link string, schemas []string, tables int) {
	l.Log(RunEvent{
		Event: EventRunStarted,
		Details: map[string]any{
			"link":    link,
			"schemas": schemas,
			"tables":  tables,
		},
	})
}

// LogRunCompleted logs the end of a run that reached done.
func (l *Logger) LogRunCompleted(scn models.ConsistencyToken, duration time.Duration, rows int64, tableFailures, restoreFailures int) {
	level := "info"
	if tableFailures > 0 || restoreFailures > 0 {
		level = "warn"
	}
	l.Log(RunEvent{
		Level:      level,
		Event:      EventRunCompleted,
		SCN:        scn,
		Rows:       rows,
		DurationMs: duration.Milliseconds(),
		Details: map[string]any{
			"table_failures":   tableFailures,
			"restore_failures": restoreFailures,
		},
	})
}

// LogRunFailed logs a fatal error.
func (l *Logger) LogRunFailed(lastState models.RunState, err error) {
	l.Log(RunEvent{
		Level:         "error",
		Event:         EventRunFailed,
		PreviousState: lastState,
		Error:         err.Error(),
	})
}

// LogStateChange logs a state transition.
func (l *Logger) LogStateChange(previous, next models.RunState) {
	l.Log(RunEvent{
		Level:         "debug",
		Event:         EventStateChange,
		PreviousState: previous,
		NewState:      next,
	})
}

// LogPhaseStarted logs the start of a pipeline phase.
func (l *Logger) LogPhaseStarted(phase string) {
	l.Log(RunEvent{
		Event: EventPhaseStarted,
		Phase: phase,
	})
}

// LogPhaseCompleted logs the completion of a pipeline phase.
func (l *Logger) LogPhaseCompleted(phase string, duration time.Duration) {
	l.Log(RunEvent{
		Event:      EventPhaseCompleted,
		Phase:      phase,
		DurationMs: duration.Milliseconds(),
	})
}

// LogTableCopied logs a successful table copy.
func (l *Logger) LogTableCopied(table string, rows int64, duration time.Duration, rowsPerSec float64) {
	l.Log(RunEvent{
		Event:      EventTableCopied,
		Table:      table,
		Rows:       rows,
		DurationMs: duration.Milliseconds(),
		RowsPerSec: rowsPerSec,
	})
}

// LogTableFailed logs a table whose copy statement failed.
func (l *Logger) LogTableFailed(table, statement string, err error) {
	l.Log(RunEvent{
		Level:     "error",
		Event:     EventTableFailed,
		Table:     table,
		Statement: statement,
		Error:     err.Error(),
	})
}

// LogRestoreFailed logs a constraint or trigger that could not be re-enabled.
func (l *Logger) LogRestoreFailed(object string, err error) {
	l.Log(RunEvent{
		Level:  "warn",
		Event:  EventRestoreFailed,
		Object: object,
		Error:  err.Error(),
	})
}

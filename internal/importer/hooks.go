package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/eventimport/internal/models"
)

// HookPhase names the point in the run a hook list executes at.
type HookPhase string

const (
	HookPhasePre  HookPhase = "pre"
	HookPhasePost HookPhase = "post"
)

// HookError describes the hook that stopped the run.
type HookError struct {
	Phase     HookPhase
	Index     int
	Statement string
	Err       error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s-run hook %d: %v", e.Phase, e.Index+1, e.Err)
}

func (e *HookError) Unwrap() []error {
	return []error{ErrHookFailed, e.Err}
}

// HookRunner executes pre- and post-run statements in order.
type HookRunner struct {
	conn   Conn
	logger *Logger
}

// NewHookRunner creates a hook runner on conn.
func NewHookRunner(conn Conn, logger *Logger) *HookRunner {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &HookRunner{conn: conn, logger: logger}
}

// RunAll resolves and executes each hook. The first failure is returned as a
// *HookError matching ErrHookFailed and no later hook runs.
func (h *HookRunner) RunAll(ctx context.Context, phase HookPhase, hooks []string, token models.ConsistencyToken, params map[string]string) error {
	for i, hook := range hooks {
		stmt := Resolve(hook, token, params)
		start := time.Now()
		rows, err := h.conn.Exec(ctx, stmt)
		if err != nil {
			return &HookError{Phase: phase, Index: i, Statement: stmt, Err: err}
		}
		h.logger.Log(RunEvent{
			Event:      EventHookExecuted,
			Phase:      string(phase),
			Rows:       rows,
			DurationMs: time.Since(start).Milliseconds(),
			Details:    map[string]any{"index": i + 1},
		})
	}
	return nil
}

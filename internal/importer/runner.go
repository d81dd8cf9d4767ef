package importer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/willibrandon/eventimport/internal/models"
)

// Deps are the collaborators a run executes against.
type Deps struct {
	// Conn is the dedicated target session. Every step runs on it.
	Conn Conn
	Jobs JobControl
	// Pool is optional and only used for parallel unfiltered copies.
	Pool     SessionPool
	Recorder Recorder
	Logger   *Logger
}

// Options tunes a run.
type Options struct {
	JobTimeout        time.Duration
	FlashbackMetadata bool
	Workers           int
	// CheckOrder logs tables configured before their foreign key parents
	// once the metadata import has populated the target catalog.
	CheckOrder bool
}

// ProgressUpdate is sent each time the run completes a step.
type ProgressUpdate struct {
	RunID string
	State models.RunState
	At    time.Time
}

// Runner executes one plan exactly once.
type Runner struct {
	plan     *Plan
	deps     Deps
	opts     Options
	logger   *Logger
	progress chan ProgressUpdate

	mu       sync.Mutex
	executed bool
	state    models.RunState
}

// NewRunner creates a runner for plan.
func NewRunner(plan *Plan, deps Deps, opts Options) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Runner{
		plan:     plan,
		deps:     deps,
		opts:     opts,
		logger:   logger,
		progress: make(chan ProgressUpdate, 16),
		state:    models.RunStateInit,
	}
}

// Progress returns a channel of step completions. Updates are dropped when
// nobody reads them.
func (r *Runner) Progress() <-chan ProgressUpdate {
	return r.progress
}

// State returns the last state the run reached.
func (r *Runner) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run executes the plan. A second call returns ErrRunAlreadyExecuted and no
// report. Otherwise the report is never nil, and a non-nil error
// is fatal and is a *StepError naming the step that failed; recoverable
// per-table and per-object failures are only listed in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	if r.executed {
		r.mu.Unlock()
		return nil, ErrRunAlreadyExecuted
	}
	r.executed = true
	r.mu.Unlock()
	defer close(r.progress)

	runID := uuid.NewString()
	r.logger = r.logger.ForRun(runID)
	report := &Report{
		RunID:     runID,
		Link:      r.plan.Link,
		Schemas:   r.plan.Schemas,
		State:     models.RunStateInit,
		LastState: models.RunStateInit,
		StartedAt: time.Now(),
	}

	err := r.execute(ctx, report)

	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if err != nil {
		report.Err = err
		report.Error = err.Error()
		report.State = models.RunStateFailed
		r.logger.LogRunFailed(report.LastState, err)
	} else {
		report.State = models.RunStateDone
		r.logger.LogRunCompleted(report.SCN, report.Duration, report.TotalRows(), len(report.FailedTables()), len(report.RestoreFailures))
	}

	if r.deps.Recorder != nil {
		if rerr := r.deps.Recorder.RecordRun(context.WithoutCancel(ctx), report); rerr != nil {
			r.logger.Log(RunEvent{Level: "warn", Event: EventRunCompleted, Error: fmt.Sprintf("record run: %v", rerr)})
		}
	}

	return report, err
}

func (r *Runner) execute(ctx context.Context, report *Report) error {
	plan := r.plan
	if err := plan.Validate(); err != nil {
		return r.fail(report, models.RunStateInit, err)
	}

	r.logger.LogRunStarted(plan.Link, plan.Schemas, len(plan.Tables))
	r.warnUnresolved()

	provisioner := NewProvisioner(r.deps.Conn, r.deps.Jobs, r.logger, ProvisionOptions{
		JobTimeout:        r.opts.JobTimeout,
		FlashbackMetadata: r.opts.FlashbackMetadata,
	})

	if plan.DropSchemas {
		if err := r.step(ctx, report, models.RunStateSchemaDropped, func(ctx context.Context) error {
			return provisioner.DropSchemas(ctx, plan.Schemas)
		}); err != nil {
			return err
		}
	}

	if err := r.step(ctx, report, models.RunStateSnapshotCaptured, func(ctx context.Context) error {
		token, err := Capture(ctx, r.deps.Conn, plan.Link)
		report.SCN = token
		return err
	}); err != nil {
		return err
	}

	token := report.SCN
	params := plan.RunParams(token)
	hooks := NewHookRunner(r.deps.Conn, r.logger)

	if err := r.step(ctx, report, models.RunStatePreHooksRun, func(ctx context.Context) error {
		return hooks.RunAll(ctx, HookPhasePre, plan.PreRun, token, params)
	}); err != nil {
		return err
	}

	if err := r.step(ctx, report, models.RunStateMetadataImported, func(ctx context.Context) error {
		return provisioner.ImportMetadata(ctx, plan, token)
	}); err != nil {
		return err
	}

	if r.opts.CheckOrder {
		violations, err := CheckOrder(ctx, r.deps.Conn, plan, r.logger)
		if err != nil {
			r.logger.Log(RunEvent{Level: "warn", Event: EventOrderViolation, Error: err.Error()})
		}
		report.OrderViolations = violations
	}

	suspender := NewSuspender(r.deps.Conn, r.logger)
	if err := r.step(ctx, report, models.RunStateConstraintsSuspended, func(ctx context.Context) error {
		constraints, triggers, err := suspender.Disable(ctx, plan.TableRefs())
		report.Constraints = constraints
		report.Triggers = triggers
		return err
	}); err != nil {
		return err
	}

	copier := NewCopier(r.deps.Conn, plan.Link, r.logger, CopyOptions{Workers: r.opts.Workers, Pool: r.deps.Pool})
	if err := r.step(ctx, report, models.RunStateDataCopied, func(ctx context.Context) error {
		report.Tables = copier.CopyAll(ctx, plan.Tables, token, params)
		return nil
	}); err != nil {
		return err
	}

	if err := r.step(ctx, report, models.RunStatePostHooksRun, func(ctx context.Context) error {
		return hooks.RunAll(ctx, HookPhasePost, plan.PostRun, token, params)
	}); err != nil {
		return err
	}

	if err := r.step(ctx, report, models.RunStateConstraintsRestored, func(ctx context.Context) error {
		report.RestoreFailures = suspender.Restore(ctx, report.Constraints, report.Triggers)
		return nil
	}); err != nil {
		return err
	}

	return r.transition(report, models.RunStateDone)
}

// step runs one phase and moves the run to next when it succeeds.
func (r *Runner) step(ctx context.Context, report *Report, next models.RunState, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return r.fail(report, next, err)
	}

	phase := string(next)
	r.logger.LogPhaseStarted(phase)
	start := time.Now()

	if err := fn(ctx); err != nil {
		return r.fail(report, next, err)
	}

	r.logger.LogPhaseCompleted(phase, time.Since(start))
	return r.transition(report, next)
}

func (r *Runner) transition(report *Report, next models.RunState) error {
	r.mu.Lock()
	previous := r.state
	if err := previous.ValidateTransition(next); err != nil {
		r.mu.Unlock()
		return r.fail(report, next, err)
	}
	r.state = next
	r.mu.Unlock()

	report.LastState = next
	r.logger.LogStateChange(previous, next)

	select {
	case r.progress <- ProgressUpdate{RunID: report.RunID, State: next, At: time.Now()}:
	default:
	}
	return nil
}

func (r *Runner) fail(report *Report, step models.RunState, err error) error {
	r.mu.Lock()
	last := r.state
	r.state = models.RunStateFailed
	r.mu.Unlock()
	return &StepError{Step: step, LastState: last, Err: err}
}

// warnUnresolved logs every :name in a filter or hook that no parameter
// resolves. Those statements fail when executed.
func (r *Runner) warnUnresolved() {
	unresolved := UnresolvedParams(r.plan)
	for _, where := range SortedKeys(unresolved) {
		for _, name := range unresolved[where] {
			r.logger.Log(RunEvent{
				Level:   "warn",
				Event:   EventUnresolvedParam,
				Object:  where,
				Details: map[string]any{"param": name},
			})
		}
	}
}

// UnresolvedParams returns, per filter or hook location, the parameter
// names that the plan leaves unresolved.
func UnresolvedParams(plan *Plan) map[string][]string {
	known := plan.RunParams(1)
	out := make(map[string][]string)
	add := func(where, template string) {
		if names := Unresolved(template, known); len(names) > 0 {
			out[where] = names
		}
	}
	for _, t := range plan.Tables {
		add(t.TableRef.String(), t.Filter)
	}
	for i, h := range plan.PreRun {
		add(fmt.Sprintf("pre_run[%d]", i+1), h)
	}
	for i, h := range plan.PostRun {
		add(fmt.Sprintf("post_run[%d]", i+1), h)
	}
	return out
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

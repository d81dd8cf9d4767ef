package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/willibrandon/eventimport/internal/models"
)

// recorderFunc adapts a function to Recorder.
type recorderFunc func(ctx context.Context, report *Report) error

func (f recorderFunc) RecordRun(ctx context.Context, report *Report) error { return f(ctx, report) }

type RunnerTestSuite struct {
	suite.Suite
	conn *fakeConn
	jobs *fakeJobs

	mu          sync.Mutex
	constraints [][]any
	triggers    [][]any
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) SetupTest() {
	s.conn = newFakeConn()
	s.jobs = &fakeJobs{status: models.JobStatusCompleted}
	s.constraints = nil
	s.triggers = nil
	s.conn.queryFn = func(query string, args ...any) ([][]any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case strings.Contains(query, "v$database@"):
			return [][]any{{"5000"}}, nil
		case query == enabledForeignKeysQuery:
			out := s.constraints
			s.constraints = nil
			return out, nil
		case query == enabledTriggersQuery:
			out := s.triggers
			s.triggers = nil
			return out, nil
		}
		return nil, nil
	}
}

func (s *RunnerTestSuite) runner(plan *Plan, deps Deps) *Runner {
	if deps.Conn == nil {
		deps.Conn = s.conn
	}
	if deps.Jobs == nil {
		deps.Jobs = s.jobs
	}
	return NewRunner(plan, deps, Options{})
}

func singleTablePlan() *Plan {
	plan := NewPlan().ImportFrom("JADE_PROD").ImportSchema("JADE")
	if err := plan.ImportTable("JADE", "ADDRESSTYPE", ""); err != nil {
		panic(err)
	}
	return plan
}

func (s *RunnerTestSuite) TestScenarioA_SingleUnfilteredTable() {
	s.conn.rowsFor[`"ADDRESSTYPE"`] = 42

	report, err := s.runner(singleTablePlan(), Deps{}).Run(context.Background())
	s.Require().NoError(err)

	s.Equal(models.RunStateDone, report.State)
	s.Equal(models.RunStateDone, report.LastState)
	s.Equal(models.ConsistencyToken(5000), report.SCN)
	s.Empty(report.Constraints)
	s.Empty(report.Triggers)
	s.Require().Len(report.Tables, 1)
	s.Equal(int64(42), report.TotalRows())
	s.False(report.HasFailures())

	s.Equal([]string{
		`insert into "JADE"."ADDRESSTYPE" select * from "JADE"."ADDRESSTYPE"@JADE_PROD as of scn 5000 x`,
	}, s.conn.execs)
	s.Contains(s.jobs.calls, "start")
	s.Equal(1, s.jobs.detached)
}

func (s *RunnerTestSuite) TestScenarioD_StoppedJobNeverCopies() {
	s.jobs.status = models.JobStatusStopped

	report, err := s.runner(singleTablePlan(), Deps{}).Run(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, ErrSchemaProvisionFailed)

	var stepErr *StepError
	s.Require().ErrorAs(err, &stepErr)
	s.Equal(models.RunStateMetadataImported, stepErr.Step)
	s.Equal(models.RunStatePreHooksRun, stepErr.LastState)

	s.Equal(models.RunStateFailed, report.State)
	s.Equal(models.RunStatePreHooksRun, report.LastState)
	s.Empty(s.conn.execsContaining("insert into"), "copy executor is never invoked")
	s.Empty(report.Tables)
	s.Equal(1, s.jobs.detached)
}

func (s *RunnerTestSuite) TestStateSequence() {
	plan := singleTablePlan().SetDropSchemas(true)
	r := s.runner(plan, Deps{})

	var states []models.RunState
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range r.Progress() {
			states = append(states, u.State)
		}
	}()

	_, err := r.Run(context.Background())
	s.Require().NoError(err)
	<-done

	s.Equal([]models.RunState{
		models.RunStateSchemaDropped,
		models.RunStateSnapshotCaptured,
		models.RunStatePreHooksRun,
		models.RunStateMetadataImported,
		models.RunStateConstraintsSuspended,
		models.RunStateDataCopied,
		models.RunStatePostHooksRun,
		models.RunStateConstraintsRestored,
		models.RunStateDone,
	}, states)
	s.Equal(`drop user "JADE" cascade`, s.conn.execs[0])
}

func (s *RunnerTestSuite) TestPreHooksRunBeforeImportAndPostHooksBeforeRestore() {
	s.constraints = [][]any{{"FK_ADDRESSTYPE_PARENT"}}

	plan := singleTablePlan().
		AddPreRun("insert into jade_reports.subjects select eventid from jade.event@:sourcedb where eventid = :eventid").
		AddPostRun("update jade.config set endpoint = null").
		FilterParam("eventid", "100")

	_, err := s.runner(plan, Deps{}).Run(context.Background())
	s.Require().NoError(err)

	s.Equal([]string{
		"insert into jade_reports.subjects select eventid from jade.event@JADE_PROD as of scn 5000 where eventid = 100",
		`alter table "JADE"."ADDRESSTYPE" disable constraint "FK_ADDRESSTYPE_PARENT"`,
		`insert into "JADE"."ADDRESSTYPE" select * from "JADE"."ADDRESSTYPE"@JADE_PROD as of scn 5000 x`,
		"update jade.config set endpoint = null",
		`alter table "JADE"."ADDRESSTYPE" enable constraint "FK_ADDRESSTYPE_PARENT"`,
	}, s.conn.execs)
}

func (s *RunnerTestSuite) TestPostHookFailureIsFatal() {
	s.conn.failOn["endpoint"] = errORA
	plan := singleTablePlan().AddPostRun("update jade.config set endpoint = null")

	report, err := s.runner(plan, Deps{}).Run(context.Background())
	s.ErrorIs(err, ErrHookFailed)

	var hookErr *HookError
	s.Require().ErrorAs(err, &hookErr)
	s.Equal(HookPhasePost, hookErr.Phase)
	s.Equal(models.RunStateDataCopied, report.LastState)
	s.Empty(s.conn.execsContaining("enable"), "restore does not run after a fatal step")
}

func (s *RunnerTestSuite) TestPartialDisableReportsSuspendedObjects() {
	s.constraints = [][]any{{"FK_A"}, {"FK_B"}}
	s.conn.failOn[`disable constraint "FK_B"`] = errors.New("ORA-00054: resource busy")

	report, err := s.runner(singleTablePlan(), Deps{}).Run(context.Background())
	s.ErrorIs(err, ErrConstraintSuspendFailed)

	s.Equal(models.RunStateFailed, report.State)
	s.Equal(models.RunStateMetadataImported, report.LastState)
	s.Require().Len(report.Constraints, 1)
	s.Equal("JADE.ADDRESSTYPE.FK_A", report.Constraints[0].String())
	s.True(report.StillSuspended())
	s.Empty(s.conn.execsContaining("enable"))
}

func (s *RunnerTestSuite) TestCopyAndRestoreFailuresAreNotFatal() {
	s.constraints = [][]any{{"FK_A"}, {"FK_B"}}
	s.conn.failOn[`"ADDRESSTYPE" select`] = errORA
	s.conn.failOn[`enable constraint "FK_A"`] = errors.New("ORA-02443: Cannot drop constraint - nonexistent constraint")

	report, err := s.runner(singleTablePlan(), Deps{}).Run(context.Background())
	s.Require().NoError(err)

	s.True(report.Succeeded())
	s.True(report.HasFailures())
	s.Len(report.FailedTables(), 1)
	s.Require().Len(report.RestoreFailures, 1)
	s.Equal("JADE.ADDRESSTYPE.FK_A", report.RestoreFailures[0].Object)
	s.Len(s.conn.execsContaining(`enable constraint "FK_B"`), 1)
}

func (s *RunnerTestSuite) TestSnapshotFailureIsFatal() {
	s.conn.queryFn = func(string, ...any) ([][]any, error) { return nil, errors.New("ORA-12154") }

	report, err := s.runner(singleTablePlan(), Deps{}).Run(context.Background())
	s.ErrorIs(err, ErrSourceUnavailable)
	s.Equal(models.RunStateInit, report.LastState)
	s.Empty(s.jobs.calls)
}

func (s *RunnerTestSuite) TestInvalidPlanFailsBeforeAnyWork() {
	plan := NewPlan().ImportFrom("L")

	report, err := s.runner(plan, Deps{}).Run(context.Background())
	s.ErrorIs(err, ErrInvalidPlan)
	s.Equal(models.RunStateFailed, report.State)
	s.Empty(s.conn.queries)
	s.Empty(s.conn.execs)
}

func (s *RunnerTestSuite) TestRecorderReceivesReport() {
	var recorded *Report
	rec := recorderFunc(func(ctx context.Context, report *Report) error {
		recorded = report
		return errors.New("disk full")
	})

	report, err := s.runner(singleTablePlan(), Deps{Recorder: rec}).Run(context.Background())
	s.Require().NoError(err, "recorder failures do not fail the run")
	s.Same(report, recorded)
	s.NotEmpty(recorded.RunID)
}

func (s *RunnerTestSuite) TestRunOnlyOnce() {
	r := s.runner(singleTablePlan(), Deps{})
	_, err := r.Run(context.Background())
	s.Require().NoError(err)

	report, err := r.Run(context.Background())
	s.ErrorIs(err, ErrRunAlreadyExecuted)
	s.Nil(report)
}

func (s *RunnerTestSuite) TestCancelledContextStopsBetweenSteps() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.runner(singleTablePlan(), Deps{}).Run(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Equal(models.RunStateInit, report.LastState)
}

func TestUnresolvedParams(t *testing.T) {
	plan := NewPlan().ImportFrom("L").ImportSchema("JADE").
		FilterParam("eventid", "1").
		AddPreRun("insert into x select :eventid, :scn from dual").
		AddPostRun("delete from y where id = :missing_hook")
	require.NoError(t, plan.ImportTable("JADE", "EVENT", "where eventid in (:eventid) and c = :missing"))

	got := UnresolvedParams(plan)
	assert.Equal(t, map[string][]string{
		"JADE.EVENT":  {"missing"},
		"post_run[1]": {"missing_hook"},
	}, got)
	assert.Equal(t, []string{"JADE.EVENT", "post_run[1]"}, SortedKeys(got))
}

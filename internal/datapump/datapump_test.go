package datapump

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/models"
)

// plsqlConn records PL/SQL calls and fills sql.Out binds the way the driver
// would.
type plsqlConn struct {
	mu     sync.Mutex
	calls  []call
	handle int64
	states []string
	failOn map[string]error
}

type call struct {
	block string
	args  map[string]any
}

func (c *plsqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	named := make(map[string]any, len(args))
	for _, a := range args {
		arg := a.(sql.NamedArg)
		named[arg.Name] = arg.Value
	}
	c.calls = append(c.calls, call{block: query, args: named})

	for sub, err := range c.failOn {
		if strings.Contains(query, sub) {
			return 0, err
		}
	}

	if out, ok := named["handle"].(sql.Out); ok {
		*(out.Dest.(*int64)) = c.handle
	}
	if out, ok := named["job_state"].(sql.Out); ok {
		state := "EXECUTING"
		if len(c.states) > 0 {
			state = c.states[0]
			if len(c.states) > 1 {
				c.states = c.states[1:]
			}
		}
		*(out.Dest.(*string)) = state
	}
	return 0, nil
}

func (c *plsqlConn) Query(ctx context.Context, query string, args ...any) (importer.Rows, error) {
	return nil, errors.New("unexpected query")
}

// blocks returns the calls that executed exactly block.
func (c *plsqlConn) blocks(block string) []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call
	for _, cl := range c.calls {
		if cl.block == block {
			out = append(out, cl)
		}
	}
	return out
}

func openJob(t *testing.T, conn *plsqlConn) *Job {
	t.Helper()
	ctl := New(conn, Options{PollInterval: time.Millisecond})
	h, err := ctl.Open(context.Background(), importer.JobRequest{
		Operation:  "IMPORT",
		Mode:       "SCHEMA",
		RemoteLink: "JADE_PROD",
		Version:    "COMPATIBLE",
	})
	require.NoError(t, err)
	return h.(*Job)
}

func TestJobName(t *testing.T) {
	a := JobName("EVENTIMPORT")
	b := JobName("EVENTIMPORT")
	assert.True(t, strings.HasPrefix(a, "EVENTIMPORT_"))
	assert.LessOrEqual(t, len(a), 30)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToUpper(a), a)
}

func TestOpen_BindsRequestAndReadsHandle(t *testing.T) {
	conn := &plsqlConn{handle: 42}
	job := openJob(t, conn)

	assert.Equal(t, int64(42), job.Handle())
	assert.True(t, strings.HasPrefix(job.Name(), "EVENTIMPORT_"))

	opens := conn.blocks(openBlock)
	require.Len(t, opens, 1)
	args := opens[0].args
	assert.Equal(t, "IMPORT", args["operation"])
	assert.Equal(t, "SCHEMA", args["job_mode"])
	assert.Equal(t, "JADE_PROD", args["remote_link"])
	assert.Equal(t, "COMPATIBLE", args["version"])
	assert.Equal(t, job.Name(), args["job_name"])
}

func TestOpen_Failure(t *testing.T) {
	conn := &plsqlConn{failOn: map[string]error{"dbms_datapump.open": errors.New("ORA-31634: job already exists")}}
	ctl := New(conn, Options{})
	_, err := ctl.Open(context.Background(), importer.JobRequest{Operation: "IMPORT"})
	assert.ErrorContains(t, err, "ORA-31634")
}

func TestJob_ConfigurationCallsPassHandle(t *testing.T) {
	conn := &plsqlConn{handle: 7}
	job := openJob(t, conn)
	ctx := context.Background()

	require.NoError(t, job.MetadataFilter(ctx, "SCHEMA_LIST", "'JADE'"))
	require.NoError(t, job.DataFilter(ctx, "INCLUDE_ROWS", 0))
	require.NoError(t, job.SetParameter(ctx, "FLASHBACK_SCN", 9001))
	require.NoError(t, job.RemapTablespace(ctx, "JADE_DATA", "USERS"))
	require.NoError(t, job.Start(ctx))

	mf := conn.blocks(metadataFilterBlock)
	require.Len(t, mf, 1)
	assert.Equal(t, int64(7), mf[0].args["handle"])
	assert.Equal(t, "SCHEMA_LIST", mf[0].args["name"])
	assert.Equal(t, "'JADE'", mf[0].args["value"])

	df := conn.blocks(dataFilterBlock)
	require.Len(t, df, 1)
	assert.Equal(t, 0, df[0].args["value"])

	sp := conn.blocks(setParameterBlock)
	require.Len(t, sp, 1)
	assert.Equal(t, int64(9001), sp[0].args["value"])

	rm := conn.blocks(remapBlock)
	require.Len(t, rm, 1)
	assert.Equal(t, "JADE_DATA", rm[0].args["old_value"])
	assert.Equal(t, "USERS", rm[0].args["value"])

	assert.Len(t, conn.blocks(startBlock), 1)
}

func TestJob_CallFailureNamesOperation(t *testing.T) {
	conn := &plsqlConn{failOn: map[string]error{"start_job": errors.New("ORA-39002: invalid operation")}}
	job := openJob(t, conn)
	err := job.Start(context.Background())
	assert.ErrorContains(t, err, "start_job")
	assert.ErrorContains(t, err, job.Name())
}

func TestWait_PollsUntilTerminal(t *testing.T) {
	conn := &plsqlConn{states: []string{"DEFINING", "EXECUTING", "EXECUTING", "completed "}}
	job := openJob(t, conn)

	status, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, status)
	assert.Len(t, conn.blocks(statusBlock), 4)
	assert.Empty(t, conn.blocks(stopBlock))
}

func TestWait_ReturnsStoppedStatus(t *testing.T) {
	conn := &plsqlConn{states: []string{"STOPPED"}}
	job := openJob(t, conn)

	status, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, status)
	assert.False(t, status.IsSuccess())
}

func TestWait_TimeoutStopsJob(t *testing.T) {
	conn := &plsqlConn{states: []string{"EXECUTING"}}
	job := openJob(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := job.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, conn.blocks(stopBlock), 1)

	// A stopped job is already detached server-side.
	require.NoError(t, job.Detach(context.Background()))
	assert.Empty(t, conn.blocks(detachBlock))
}

func TestWait_RunsUntilDeadlineBetweenPolls(t *testing.T) {
	conn := &plsqlConn{handle: 7, states: []string{"EXECUTING"}}
	ctl := New(conn, Options{PollInterval: 200 * time.Millisecond})
	h, err := ctl.Open(context.Background(), importer.JobRequest{Operation: "IMPORT", Mode: "SCHEMA", RemoteLink: "L"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = h.Wait(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 290*time.Millisecond, "the job is not stopped a poll interval early")
	assert.Len(t, conn.blocks(statusBlock), 2)
	assert.Len(t, conn.blocks(stopBlock), 1)
}

func TestWait_StatusError(t *testing.T) {
	conn := &plsqlConn{failOn: map[string]error{"get_status": errors.New("ORA-31626: job does not exist")}}
	job := openJob(t, conn)

	_, err := job.Wait(context.Background())
	assert.ErrorContains(t, err, "get_status")
	assert.Empty(t, conn.blocks(stopBlock))
}

func TestDetach_Once(t *testing.T) {
	conn := &plsqlConn{}
	job := openJob(t, conn)

	require.NoError(t, job.Detach(context.Background()))
	require.NoError(t, job.Detach(context.Background()))
	assert.Len(t, conn.blocks(detachBlock), 1)
}

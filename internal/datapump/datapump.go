// Package datapump drives DBMS_DATAPUMP network imports on the target.
//
// A job handle is only valid in the session that opened it, so a Control and
// every job it opens share one session.
package datapump

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
	"github.com/willibrandon/eventimport/internal/models"
	"golang.org/x/time/rate"
)

const (
	openBlock = `begin
  :handle := dbms_datapump.open(operation => :operation, job_mode => :job_mode,
                                remote_link => :remote_link, job_name => :job_name,
                                version => :version);
end;`

	metadataFilterBlock = `begin dbms_datapump.metadata_filter(handle => :handle, name => :name, value => :value); end;`
	dataFilterBlock     = `begin dbms_datapump.data_filter(handle => :handle, name => :name, value => :value); end;`
	setParameterBlock   = `begin dbms_datapump.set_parameter(handle => :handle, name => :name, value => :value); end;`
	remapBlock          = `begin dbms_datapump.metadata_remap(handle => :handle, name => 'REMAP_TABLESPACE', old_value => :old_value, value => :value); end;`
	startBlock          = `begin dbms_datapump.start_job(handle => :handle); end;`
	detachBlock         = `begin dbms_datapump.detach(handle => :handle); end;`
	stopBlock           = `begin dbms_datapump.stop_job(handle => :handle, immediate => 1, keep_master => 0); end;`

	statusBlock = `declare
  l_state  varchar2(30);
  l_status ku$_status;
begin
  dbms_datapump.get_status(handle => :handle, mask => dbms_datapump.ku$_status_job_status,
                           timeout => 0, job_state => l_state, status => l_status);
  :job_state := l_state;
end;`
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// Options configures job control.
type Options struct {
	PollInterval time.Duration
	// JobPrefix starts every generated job name.
	JobPrefix string
}

// Control opens DBMS_DATAPUMP jobs on one session.
type Control struct {
	conn importer.Conn
	opts Options
}

// New creates a job control over conn.
func New(conn importer.Conn, opts Options) *Control {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.JobPrefix == "" {
		opts.JobPrefix = "EVENTIMPORT"
	}
	return &Control{conn: conn, opts: opts}
}

// JobName returns a unique job name with prefix. Names stay within the
// 30 character limit of older releases.
func JobName(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	name := prefix + "_" + id
	if len(name) > 30 {
		name = name[:30]
	}
	return name
}

// Open creates a job and returns its handle.
func (c *Control) Open(ctx context.Context, req importer.JobRequest) (importer.JobHandle, error) {
	name := JobName(c.opts.JobPrefix)

	var handle int64
	_, err := c.conn.Exec(ctx, openBlock,
		sql.Named("handle", sql.Out{Dest: &handle}),
		sql.Named("operation", req.Operation),
		sql.Named("job_mode", req.Mode),
		sql.Named("remote_link", req.RemoteLink),
		sql.Named("job_name", name),
		sql.Named("version", req.Version),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s job %s: %w", req.Operation, name, err)
	}

	logger.Info("Opened datapump job", "job", name, "handle", handle, "link", req.RemoteLink)
	return &Job{
		conn:     c.conn,
		name:     name,
		handle:   handle,
		interval: c.opts.PollInterval,
	}, nil
}

// Job is an open DBMS_DATAPUMP job.
type Job struct {
	conn     importer.Conn
	name     string
	handle   int64
	interval time.Duration
	stopped  bool
	detached bool
}

// Name returns the job name.
func (j *Job) Name() string {
	return j.name
}

// Handle returns the session-scoped job handle.
func (j *Job) Handle() int64 {
	return j.handle
}

// MetadataFilter adds a metadata filter such as SCHEMA_LIST.
func (j *Job) MetadataFilter(ctx context.Context, name, value string) error {
	return j.call(ctx, "metadata_filter", metadataFilterBlock, sql.Named("name", name), sql.Named("value", value))
}

// DataFilter adds a numeric data filter such as INCLUDE_ROWS.
func (j *Job) DataFilter(ctx context.Context, name string, value int) error {
	return j.call(ctx, "data_filter", dataFilterBlock, sql.Named("name", name), sql.Named("value", value))
}

// SetParameter sets a numeric job parameter.
func (j *Job) SetParameter(ctx context.Context, name string, value int64) error {
	return j.call(ctx, "set_parameter", setParameterBlock, sql.Named("name", name), sql.Named("value", value))
}

// RemapTablespace moves objects from one tablespace to another.
func (j *Job) RemapTablespace(ctx context.Context, from, to string) error {
	return j.call(ctx, "metadata_remap", remapBlock, sql.Named("old_value", from), sql.Named("value", to))
}

// Start starts the configured job.
func (j *Job) Start(ctx context.Context) error {
	return j.call(ctx, "start_job", startBlock)
}

// Status reads the current job state without waiting.
func (j *Job) Status(ctx context.Context) (string, error) {
	var state string
	_, err := j.conn.Exec(ctx, statusBlock,
		sql.Named("handle", j.handle),
		sql.Named("job_state", sql.Out{Dest: &state}),
	)
	if err != nil {
		return "", fmt.Errorf("job %s: get_status: %w", j.name, err)
	}
	return strings.ToUpper(strings.TrimSpace(state)), nil
}

// Wait polls the job until it reaches a terminal state. When ctx ends first
// the job is stopped and ctx's error is returned. The job keeps running until
// the deadline itself, even when that falls between two polls.
func (j *Job) Wait(ctx context.Context) (models.JobStatus, error) {
	limiter := rate.NewLimiter(rate.Every(j.interval), 1)
	last := ""

	for {
		if err := pace(ctx, limiter); err != nil {
			j.stop(context.WithoutCancel(ctx))
			return "", err
		}

		state, err := j.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				j.stop(context.WithoutCancel(ctx))
				return "", ctx.Err()
			}
			return "", err
		}

		if state != last {
			logger.Debug("Datapump job state", "job", j.name, "state", state)
			last = state
		}

		status := models.JobStatus(state)
		if status.IsTerminal() {
			return status, nil
		}
	}
}

// pace blocks until the limiter allows the next poll or ctx ends.
func pace(ctx context.Context, limiter *rate.Limiter) error {
	r := limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stop asks the server to stop the job. Stopping also detaches the handle.
func (j *Job) stop(ctx context.Context) {
	if j.stopped || j.detached {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := j.conn.Exec(ctx, stopBlock, sql.Named("handle", j.handle)); err != nil {
		logger.Warn("Failed to stop datapump job", "job", j.name, "error", err)
		return
	}
	j.stopped = true
	logger.Warn("Stopped datapump job", "job", j.name)
}

// Detach releases the handle. It is a no-op after the job was stopped.
func (j *Job) Detach(ctx context.Context) error {
	if j.stopped || j.detached {
		return nil
	}
	if err := j.call(ctx, "detach", detachBlock); err != nil {
		return err
	}
	j.detached = true
	return nil
}

func (j *Job) call(ctx context.Context, op, block string, args ...any) error {
	args = append([]any{sql.Named("handle", j.handle)}, args...)
	if _, err := j.conn.Exec(ctx, block, args...); err != nil {
		return fmt.Errorf("job %s: %s: %w", j.name, op, err)
	}
	return nil
}

var (
	_ importer.JobControl = (*Control)(nil)
	_ importer.JobHandle  = (*Job)(nil)
)

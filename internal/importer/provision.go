package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/eventimport/internal/models"
)

// JobRequest opens a metadata transfer job.
type JobRequest struct {
	Operation  string // IMPORT
	Mode       string // SCHEMA
	RemoteLink string
	Version    string // COMPATIBLE
}

// JobControl starts metadata transfer jobs on the target.
type JobControl interface {
	Open(ctx context.Context, req JobRequest) (JobHandle, error)
}

// JobHandle is one open job. The caller owns it until Detach.
type JobHandle interface {
	Name() string
	MetadataFilter(ctx context.Context, name, value string) error
	DataFilter(ctx context.Context, name string, value int) error
	SetParameter(ctx context.Context, name string, value int64) error
	RemapTablespace(ctx context.Context, from, to string) error
	Start(ctx context.Context) error
	// Wait blocks until the job reaches a terminal status or ctx is done.
	Wait(ctx context.Context) (models.JobStatus, error)
	Detach(ctx context.Context) error
}

// excludedPaths are object paths never imported: compiled Java objects and
// optimizer statistics, which go stale as soon as filtered rows land.
var excludedPaths = []string{"JAVA_CLASS", "JAVA_RESOURCE", "JAVA_SOURCE", "STATISTICS"}

// ProvisionOptions configures the schema provisioner.
type ProvisionOptions struct {
	// JobTimeout bounds the wait for the metadata import. Zero waits forever.
	JobTimeout time.Duration
	// FlashbackMetadata imports metadata as of the run's SCN.
	FlashbackMetadata bool
}

// Provisioner recreates target schemas and imports their metadata.
type Provisioner struct {
	conn   Conn
	jobs   JobControl
	opts   ProvisionOptions
	logger *Logger
}

// NewProvisioner creates a provisioner.
func NewProvisioner(conn Conn, jobs JobControl, logger *Logger, opts ProvisionOptions) *Provisioner {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Provisioner{conn: conn, jobs: jobs, opts: opts, logger: logger}
}

// Provision drops the plan's schemas when requested and imports metadata.
func (p *Provisioner) Provision(ctx context.Context, plan *Plan, token models.ConsistencyToken) error {
	if plan.DropSchemas {
		if err := p.DropSchemas(ctx, plan.Schemas); err != nil {
			return err
		}
	}
	return p.ImportMetadata(ctx, plan, token)
}

// DropSchemas drops each schema's user with everything it owns.
func (p *Provisioner) DropSchemas(ctx context.Context, schemas []string) error {
	for _, schema := range schemas {
		stmt := fmt.Sprintf("drop user %s cascade", models.QuoteIdent(schema))
		if _, err := p.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: drop schema %s: %v", ErrSchemaProvisionFailed, schema, err)
		}
		p.logger.Log(RunEvent{Event: EventSchemaDropped, Object: schema})
	}
	return nil
}

// ImportMetadata runs a schema-only import of the plan's schemas over the
// plan's link. Only a COMPLETED job lets the run continue. The job is
// detached on every path once it has been opened.
func (p *Provisioner) ImportMetadata(ctx context.Context, plan *Plan, token models.ConsistencyToken) (err error) {
	job, err := p.jobs.Open(ctx, JobRequest{
		Operation:  "IMPORT",
		Mode:       "SCHEMA",
		RemoteLink: plan.Link,
		Version:    "COMPATIBLE",
	})
	if err != nil {
		return fmt.Errorf("%w: open import job: %v", ErrSchemaProvisionFailed, err)
	}
	defer func() {
		if derr := job.Detach(context.WithoutCancel(ctx)); derr != nil && err == nil {
			err = fmt.Errorf("%w: detach job %s: %v", ErrSchemaProvisionFailed, job.Name(), derr)
		}
	}()

	if err := p.configure(ctx, job, plan, token); err != nil {
		return fmt.Errorf("%w: configure job %s: %v", ErrSchemaProvisionFailed, job.Name(), err)
	}

	if err := job.Start(ctx); err != nil {
		return fmt.Errorf("%w: start job %s: %v", ErrSchemaProvisionFailed, job.Name(), err)
	}

	waitCtx := ctx
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}

	status, err := job.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			status = models.JobStatusTimedOut
		} else {
			return fmt.Errorf("%w: wait for job %s: %v", ErrSchemaProvisionFailed, job.Name(), err)
		}
	}

	p.logger.Log(RunEvent{
		Level:   levelForStatus(status),
		Event:   EventJobFinished,
		Object:  job.Name(),
		Details: map[string]any{"status": string(status)},
	})

	if !status.IsSuccess() {
		return fmt.Errorf("%w: job %s finished with status %q", ErrSchemaProvisionFailed, job.Name(), status)
	}
	return nil
}

// configure applies the schema list, exclusions, remaps and the no-rows filter.
func (p *Provisioner) configure(ctx context.Context, job JobHandle, plan *Plan, token models.ConsistencyToken) error {
	if err := job.MetadataFilter(ctx, "SCHEMA_LIST", SchemaList(plan.Schemas)); err != nil {
		return err
	}
	for _, path := range excludedPaths {
		if err := job.MetadataFilter(ctx, "EXCLUDE_PATH_LIST", quoteLiteral(path)); err != nil {
			return err
		}
	}
	if err := job.SetParameter(ctx, "USER_METADATA", 1); err != nil {
		return err
	}
	if p.opts.FlashbackMetadata {
		if err := job.SetParameter(ctx, "FLASHBACK_SCN", int64(token)); err != nil {
			return err
		}
	}
	for _, r := range plan.TablespaceRemaps {
		if err := job.RemapTablespace(ctx, r.From, r.To); err != nil {
			return err
		}
	}
	return job.DataFilter(ctx, "INCLUDE_ROWS", 0)
}

// SchemaList renders schemas as a quoted, comma separated SQL list.
func SchemaList(schemas []string) string {
	quoted := make([]string, len(schemas))
	for i, s := range schemas {
		quoted[i] = quoteLiteral(s)
	}
	return strings.Join(quoted, ",")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func levelForStatus(status models.JobStatus) string {
	if status.IsSuccess() {
		return "info"
	}
	return "error"
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/willibrandon/eventimport/internal/models"
)

// fakeConn records every statement and answers queries from canned handlers.
type fakeConn struct {
	mu      sync.Mutex
	execs   []string
	queries []string
	failOn  map[string]error // substring -> error
	rowsFor map[string]int64 // substring -> rows affected
	queryFn func(query string, args ...any) ([][]any, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		failOn:  make(map[string]error),
		rowsFor: make(map[string]int64),
	}
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.execs = append(c.execs, query)
	for sub, err := range c.failOn {
		if strings.Contains(query, sub) {
			return 0, err
		}
	}
	for sub, n := range c.rowsFor {
		if strings.Contains(query, sub) {
			return n, nil
		}
	}
	return 0, nil
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, query)
	fn := c.queryFn
	c.mu.Unlock()
	if fn == nil {
		return &fakeRows{}, nil
	}
	data, err := fn(query, args...)
	if err != nil {
		return nil, err
	}
	return &fakeRows{data: data}, nil
}

func (c *fakeConn) Release() error { return nil }

func (c *fakeConn) execsContaining(sub string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, q := range c.execs {
		if strings.Contains(q, sub) {
			out = append(out, q)
		}
	}
	return out
}

// fakeRows iterates over in-memory rows.
type fakeRows struct {
	data   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("scan: column %d is %T, not string", i, v)
			}
			*d = s
		case *uint64:
			n, ok := v.(uint64)
			if !ok {
				return fmt.Errorf("scan: column %d is %T, not uint64", i, v)
			}
			*d = n
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { r.closed = true; return nil }

// fakePool hands out fresh fake sessions that share one statement log.
type fakePool struct {
	conn      *fakeConn
	acquired  int
	failFirst int // number of leading Acquire calls that fail
	mu        sync.Mutex
}

func (p *fakePool) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired++
	if p.acquired <= p.failFirst {
		return nil, errors.New("ORA-00018: maximum number of sessions exceeded")
	}
	return p.conn, nil
}

// fakeJobs is an in-memory JobControl.
type fakeJobs struct {
	mu       sync.Mutex
	openErr  error
	status   models.JobStatus
	waitErr  error
	calls    []string
	detached int
	opened   []JobRequest
}

func (f *fakeJobs) Open(ctx context.Context, req JobRequest) (JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "open")
	f.opened = append(f.opened, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeJob{jobs: f}, nil
}

func (f *fakeJobs) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

type fakeJob struct {
	jobs *fakeJobs
}

func (j *fakeJob) Name() string { return "FAKE_JOB" }

func (j *fakeJob) MetadataFilter(ctx context.Context, name, value string) error {
	j.jobs.record(fmt.Sprintf("metadata_filter %s=%s", name, value))
	return nil
}

func (j *fakeJob) DataFilter(ctx context.Context, name string, value int) error {
	j.jobs.record(fmt.Sprintf("data_filter %s=%d", name, value))
	return nil
}

func (j *fakeJob) SetParameter(ctx context.Context, name string, value int64) error {
	j.jobs.record(fmt.Sprintf("parameter %s=%d", name, value))
	return nil
}

func (j *fakeJob) RemapTablespace(ctx context.Context, from, to string) error {
	j.jobs.record(fmt.Sprintf("remap %s->%s", from, to))
	return nil
}

func (j *fakeJob) Start(ctx context.Context) error {
	j.jobs.record("start")
	return nil
}

func (j *fakeJob) Wait(ctx context.Context) (models.JobStatus, error) {
	j.jobs.record("wait")
	if j.jobs.waitErr != nil {
		return "", j.jobs.waitErr
	}
	return j.jobs.status, nil
}

func (j *fakeJob) Detach(ctx context.Context) error {
	j.jobs.mu.Lock()
	defer j.jobs.mu.Unlock()
	j.jobs.calls = append(j.jobs.calls, "detach")
	j.jobs.detached++
	return nil
}

var errORA = errors.New("ORA-00942: table or view does not exist")

package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/willibrandon/eventimport/internal/models"
)

// CopyResult is the outcome of copying one table.
type CopyResult struct {
	Table     models.TableRef `json:"table" yaml:"table"`
	Statement string          `json:"statement,omitempty" yaml:"statement,omitempty"`
	Rows      int64           `json:"rows" yaml:"rows"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
	Err       error           `json:"-" yaml:"-"`
	Message   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed returns true if the table's statement did not succeed.
func (r CopyResult) Failed() bool {
	return r.Err != nil
}

// CopyOptions configures the table copy executor.
type CopyOptions struct {
	// Workers above 1 copies unfiltered tables concurrently on sessions
	// taken from Pool. Filtered tables always run on the run session.
	Workers int
	Pool    SessionPool
}

// Copier copies table rows from the source link, pinned to the run's SCN.
type Copier struct {
	conn    Conn
	link    string
	workers int
	pool    SessionPool
	logger  *Logger

	mu         sync.Mutex
	throughput ewma.MovingAverage
}

// NewCopier creates a copier that reads through link and writes on conn.
func NewCopier(conn Conn, link string, logger *Logger, opts CopyOptions) *Copier {
	if logger == nil {
		logger = NewLogger(nil)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}
	return &Copier{
		conn:       conn,
		link:       link,
		workers:    workers,
		pool:       opts.Pool,
		logger:     logger,
		throughput: ewma.NewMovingAverage(),
	}
}

// Statement builds the insert-select for entry with its filter resolved.
func (c *Copier) Statement(entry TableCopyEntry, token models.ConsistencyToken, params map[string]string) string {
	table := entry.Quoted()
	stmt := fmt.Sprintf("insert into %s select * from %s@%s as of scn %s x", table, table, c.link, token)
	if entry.Filter != "" {
		stmt += " " + Resolve(entry.Filter, token, params)
	}
	return stmt
}

// CopyAll copies every entry and returns one result per entry in entry
// order. A failed table is recorded and the remaining tables still run.
func (c *Copier) CopyAll(ctx context.Context, entries []TableCopyEntry, token models.ConsistencyToken, params map[string]string) []CopyResult {
	results := make([]CopyResult, len(entries))

	sequential := make([]int, 0, len(entries))
	var parallel []int
	for i, e := range entries {
		if c.workers > 1 && c.pool != nil && e.Filter == "" {
			parallel = append(parallel, i)
			continue
		}
		sequential = append(sequential, i)
	}

	if len(parallel) > 0 {
		c.copyParallel(ctx, entries, parallel, token, params, results)
	}
	for _, i := range sequential {
		results[i] = c.copyTable(ctx, c.conn, entries[i], token, params)
	}

	return results
}

// copyTable executes one insert-select. Errors are returned in the result.
func (c *Copier) copyTable(ctx context.Context, conn Conn, entry TableCopyEntry, token models.ConsistencyToken, params map[string]string) CopyResult {
	stmt := c.Statement(entry, token, params)
	result := CopyResult{Table: entry.TableRef, Statement: stmt}

	start := time.Now()
	rows, err := conn.Exec(ctx, stmt)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("%w: %s: %w", ErrTableCopyFailed, entry.TableRef, err)
		result.Message = err.Error()
		c.logger.LogTableFailed(entry.TableRef.String(), stmt, err)
		return result
	}

	result.Rows = rows
	c.logger.LogTableCopied(entry.TableRef.String(), rows, result.Duration, c.observe(rows, result.Duration))
	return result
}

// observe feeds the throughput average and returns its current value.
func (c *Copier) observe(rows int64, d time.Duration) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.throughput.Add(float64(rows) / d.Seconds())
	}
	return c.throughput.Value()
}

// Throughput returns the moving average of copied rows per second.
func (c *Copier) Throughput() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throughput.Value()
}

package importer

import (
	"context"
	"sync"

	"github.com/willibrandon/eventimport/internal/models"
)

// copyTask is one table handed to a copy worker.
type copyTask struct {
	index int
	entry TableCopyEntry
}

// copyParallel copies the entries at indexes with a worker pool. Each worker
// holds its own session; a failed table never cancels its siblings. Results
// are written into results at the entry's index. Workers whose session cannot
// be opened are skipped, and when none can be opened the entries run on the
// run session in order.
func (c *Copier) copyParallel(ctx context.Context, entries []TableCopyEntry, indexes []int, token models.ConsistencyToken, params map[string]string, results []CopyResult) {
	workers := c.workers
	if workers > len(indexes) {
		workers = len(indexes)
	}

	sessions := make([]Session, 0, workers)
	for w := 0; w < workers; w++ {
		session, err := c.pool.Acquire(ctx)
		if err != nil {
			c.logger.Log(RunEvent{
				Level:   "warn",
				Event:   EventWorkerUnavailable,
				Error:   err.Error(),
				Details: map[string]any{"worker": w},
			})
			continue
		}
		sessions = append(sessions, session)
	}

	if len(sessions) == 0 {
		for _, i := range indexes {
			results[i] = c.copyTable(ctx, c.conn, entries[i], token, params)
		}
		return
	}

	tasks := make(chan copyTask, len(sessions)*2)
	var wg sync.WaitGroup

	for _, session := range sessions {
		wg.Add(1)
		go func(session Session) {
			defer wg.Done()
			defer session.Release()
			c.worker(ctx, session, tasks, token, params, results)
		}(session)
	}

	for _, i := range indexes {
		tasks <- copyTask{index: i, entry: entries[i]}
	}
	close(tasks)

	wg.Wait()
}

// worker drains tasks on one pooled session. Each task writes only its own
// slot of results, so no locking is needed around the slice.
func (c *Copier) worker(ctx context.Context, session Session, tasks <-chan copyTask, token models.ConsistencyToken, params map[string]string, results []CopyResult) {
	for task := range tasks {
		results[task.index] = c.copyTable(ctx, session, task.entry, token, params)
	}
}

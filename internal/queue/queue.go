package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Job queue operations.
 *
 * One Queue instance is shared by the HTTP API (enqueue, read, cancel) and
 * the worker (claim, finish). Claiming is a two-step transaction: select
 * the oldest pending job, then flip it to processing guarded by a
 * status = 'pending' predicate, so two pollers can never claim the same
 * job even without row locks.
 */

// Queue is the SQL-backed job store.
type Queue struct {
	db *sqlx.DB
	q  *Queries
}

// New builds a Queue over an opened database.
func New(db *sqlx.DB) (*Queue, error) {
	queries, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Queue{db: db, q: queries}, nil
}

// NewJobRequest carries the parameters for Enqueue.
type NewJobRequest struct {
	Context  string
	Hash     string
	Instance string
	DryRun   bool
}

// Enqueue inserts a new pending job and returns it.
func (q *Queue) Enqueue(req NewJobRequest) (*Job, error) {
	job := &Job{
		ID:        types.NewJobID(),
		Context:   req.Context,
		Hash:      req.Hash,
		Instance:  req.Instance,
		DryRun:    req.DryRun,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := q.q.Exec("enqueue-job",
		job.ID, job.Context, job.Hash, job.Instance, job.DryRun, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return job, nil
}

// Dequeue atomically claims the oldest pending job, marking it processing.
// Returns types.ErrQueueEmpty when nothing is pending.
func (q *Queue) Dequeue() (*Job, error) {
	tx, err := q.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	defer tx.Rollback()

	var job Job
	if err := q.q.GetTx(tx, "next-pending-job", &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrQueueEmpty
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	now := time.Now().UTC()
	res, err := q.q.ExecTx(tx, "claim-job", now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		// Someone else claimed it between select and update.
		return nil, types.ErrQueueEmpty
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	job.Status = StatusProcessing
	job.StartedAt = &now
	return &job, nil
}

// Get returns one job by ID.
func (q *Queue) Get(id types.JobID) (*Job, error) {
	var job Job
	if err := q.q.Get("get-job", &job, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Complete records a successful run's result on a processing job.
func (q *Queue) Complete(id types.JobID, result *types.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return q.finish(id, StatusCompleted, string(payload), "")
}

// Fail records a fatal run error on a processing job.
func (q *Queue) Fail(id types.JobID, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return q.finish(id, StatusFailed, "", msg)
}

func (q *Queue) finish(id types.JobID, status Status, result, errText string) error {
	var resultArg any
	if result != "" {
		resultArg = result
	}
	res, err := q.q.Exec("finish-job", status, time.Now().UTC(), resultArg, errText, id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrJobNotFound
	}
	return nil
}

// Cancel cancels a pending job. Processing and finished jobs cannot be
// cancelled; a run in flight completes regardless.
func (q *Queue) Cancel(id types.JobID) error {
	res, err := q.q.Exec("cancel-job", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := q.Get(id); getErr != nil {
			return getErr
		}
		return types.ErrJobNotCancellable
	}
	return nil
}

// ListFilter narrows List results. Zero values mean "no filter"; Limit 0
// defaults to types.MaxListJobsLimit.
type ListFilter struct {
	Status  Status
	Context string
	Limit   int
	Offset  int
}

// List returns jobs newest-first, optionally filtered by status and
// context.
func (q *Queue) List(filter ListFilter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 || limit > types.MaxListJobsLimit {
		limit = types.MaxListJobsLimit
	}

	var jobs []*Job
	var err error
	switch {
	case filter.Status != "" && filter.Context != "":
		err = q.q.Select("list-jobs-by-status-and-context", &jobs, filter.Status, filter.Context, limit, filter.Offset)
	case filter.Status != "":
		err = q.q.Select("list-jobs-by-status", &jobs, filter.Status, limit, filter.Offset)
	case filter.Context != "":
		err = q.q.Select("list-jobs-by-context", &jobs, filter.Context, limit, filter.Offset)
	default:
		err = q.q.Select("list-jobs", &jobs, limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Count returns the number of jobs, optionally restricted to one status.
func (q *Queue) Count(status Status) (int, error) {
	var count int
	var err error
	if status == "" {
		err = q.q.Get("count-jobs", &count)
	} else {
		err = q.q.Get("count-jobs-by-status", &count, status)
	}
	return count, err
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth() (int, error) {
	var depth int
	err := q.q.Get("queue-depth", &depth)
	return depth, err
}

// Stats summarizes the queue for the stats endpoint.
type Stats struct {
	ByStatus            map[Status]int `json:"by_status"`
	Total               int            `json:"total"`
	AvgExecutionSeconds float64        `json:"avg_execution_seconds"`
}

// Stats aggregates per-status counts and the average execution time over
// recent completed jobs. The average is computed in Go to stay portable
// across SQLite and PostgreSQL time arithmetic.
func (q *Queue) Stats() (*Stats, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}
	if err := q.q.Select("stats-by-status", &rows); err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]int)}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	var durations []struct {
		StartedAt   time.Time `db:"started_at"`
		CompletedAt time.Time `db:"completed_at"`
	}
	if err := q.q.Select("stats-durations", &durations); err != nil {
		return nil, err
	}
	if len(durations) > 0 {
		var total float64
		for _, d := range durations {
			total += d.CompletedAt.Sub(d.StartedAt).Seconds()
		}
		stats.AvgExecutionSeconds = total / float64(len(durations))
	}

	return stats, nil
}

// Cleanup deletes finished jobs whose completion is older than the
// retention window. Returns the number of deleted rows.
func (q *Queue) Cleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := q.q.Exec("cleanup-jobs", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HealthCheck verifies database connectivity.
func (q *Queue) HealthCheck(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qbtrules/qbtrules/internal/config"
	"github.com/qbtrules/qbtrules/internal/queue"
	"github.com/qbtrules/qbtrules/internal/rules"
	"github.com/qbtrules/qbtrules/internal/types"
)

/*
 * Background job processor.
 *
 * One goroutine polls the queue and executes jobs strictly one at a time;
 * serializing runs is what lets the engine core stay lock-free. Each job
 * gets a fresh Runner over a snapshot of the active rules document, so a
 * hot reload between jobs takes effect naturally and a reload during a job
 * does not.
 *
 * Stop is graceful: the poll loop exits at the next check, and an
 * in-flight job runs to completion unless the stop grace period expires,
 * at which point the run's context is cancelled and the job is marked
 * failed by the normal error path.
 */

// cleanupInterval bounds how often finished jobs are purged.
const cleanupInterval = time.Hour

// Worker polls the queue and executes rule runs.
type Worker struct {
	queue        *queue.Queue
	client       rules.Client
	store        *config.RuleStore
	pollInterval time.Duration
	retention    time.Duration
	log          zerolog.Logger

	cancelRun context.CancelFunc
	stop      chan struct{}
	done      chan struct{}

	mu        sync.Mutex
	running   bool
	lastJobID types.JobID
	lastState queue.Status
}

// Status is a point-in-time snapshot for the health endpoint.
type Status struct {
	Running    bool         `json:"running"`
	QueueDepth int          `json:"queue_depth"`
	LastJobID  types.JobID  `json:"last_job_id,omitempty"`
	LastStatus queue.Status `json:"last_job_status,omitempty"`
}

// New builds a worker; Start launches its goroutine.
func New(q *queue.Queue, client rules.Client, store *config.RuleStore,
	pollInterval, retention time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		queue:        q,
		client:       client,
		store:        store,
		pollInterval: pollInterval,
		retention:    retention,
		log:          log.With().Str("component", "worker").Logger(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the poll loop.
func (w *Worker) Start() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go w.loop()
	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("worker started")
}

// Stop shuts the worker down, waiting for an in-flight job up to the ctx
// deadline; past the deadline the job's run context is cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)

	select {
	case <-w.done:
	case <-ctx.Done():
		w.mu.Lock()
		if w.cancelRun != nil {
			w.cancelRun()
		}
		w.mu.Unlock()
		<-w.done
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.log.Info().Msg("worker stopped")
	return nil
}

// Status reports the worker and queue state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	status := Status{Running: w.running, LastJobID: w.lastJobID, LastStatus: w.lastState}
	w.mu.Unlock()

	if depth, err := w.queue.Depth(); err == nil {
		status.QueueDepth = depth
	}
	return status
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	lastCleanup := time.Now()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		// Drain everything pending before sleeping again.
		for {
			select {
			case <-w.stop:
				return
			default:
			}

			job, err := w.queue.Dequeue()
			if err != nil {
				if !errors.Is(err, types.ErrQueueEmpty) {
					w.log.Error().Err(err).Msg("dequeue failed")
				}
				break
			}
			w.process(job)
		}

		if depth, err := w.queue.Depth(); err == nil {
			queueDepth.Set(float64(depth))
		}

		if time.Since(lastCleanup) >= cleanupInterval {
			if n, err := w.queue.Cleanup(w.retention); err != nil {
				w.log.Warn().Err(err).Msg("job cleanup failed")
			} else if n > 0 {
				w.log.Info().Int64("deleted", n).Msg("purged finished jobs")
			}
			lastCleanup = time.Now()
		}
	}
}

// process executes one claimed job and records its outcome.
func (w *Worker) process(job *queue.Job) {
	log := w.log.With().Str("job_id", string(job.ID)).Str("context", job.Context).Logger()
	log.Info().Bool("dry_run", job.DryRun).Msg("processing job")

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelRun = cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.mu.Lock()
		w.cancelRun = nil
		w.mu.Unlock()
	}()

	runner := rules.NewRunner(w.client, w.store.Document(), job.DryRun, log)

	start := time.Now()
	result, err := runner.Run(ctx, job.ExecutionContext())
	runDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Msg("run failed")
		jobsProcessed.WithLabelValues(string(queue.StatusFailed)).Inc()
		w.recordFinish(job.ID, queue.StatusFailed, func() error {
			return w.queue.Fail(job.ID, err)
		})
		return
	}

	rulesMatched.Add(float64(result.RulesMatched))
	actionsTotal.WithLabelValues("executed").Add(float64(result.ActionsExecuted))
	actionsTotal.WithLabelValues("skipped").Add(float64(result.ActionsSkipped))
	actionsTotal.WithLabelValues("errored").Add(float64(result.Errors))
	jobsProcessed.WithLabelValues(string(queue.StatusCompleted)).Inc()

	log.Info().Int("matched", result.RulesMatched).Int("executed", result.ActionsExecuted).
		Dur("took", time.Since(start)).Msg("job completed")
	w.recordFinish(job.ID, queue.StatusCompleted, func() error {
		return w.queue.Complete(job.ID, result)
	})
}

func (w *Worker) recordFinish(id types.JobID, status queue.Status, finish func() error) {
	if err := finish(); err != nil {
		w.log.Error().Err(err).Str("job_id", string(id)).
			Msg(fmt.Sprintf("failed to mark job %s", status))
	}
	w.mu.Lock()
	w.lastJobID = id
	w.lastState = status
	w.mu.Unlock()
}

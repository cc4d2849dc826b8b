package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scoville/internal/logging"
)

type worker struct {
	queue        string
	batchSize    int
	pollInterval time.Duration
	handler      Handler
	logger       *slog.Logger
}

// Work registers a worker for a named queue. Workers start when the queue
// starts; registration after Start is an error.
func (q *Queue) Work(name string, opts WorkOptions, handler Handler) error {
	if handler == nil {
		return errors.New("worker handler required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = q.pollInterval
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("cannot register worker while queue is running")
	}
	q.workers = append(q.workers, &worker{
		queue:        name,
		batchSize:    opts.BatchSize,
		pollInterval: pollInterval,
		handler:      handler,
		logger:       q.logger.With(logging.String(logging.FieldQueue, name)),
	})
	return nil
}

// Start launches the registered workers and the cron scheduler.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	workers := append([]*worker{}, q.workers...)
	q.wg.Add(len(workers) + 1)
	q.mu.Unlock()

	for _, w := range workers {
		go q.runWorker(runCtx, w)
	}
	go q.runScheduler(runCtx)
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) runWorker(ctx context.Context, w *worker) {
	defer q.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := q.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("reclaim stale jobs failed; stuck jobs may remain", logging.Error(err))
		}

		jobs, err := q.claimBatch(ctx, w.queue, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("claim batch failed", logging.Error(err))
			}
			continue
		}

		for _, job := range jobs {
			q.runJob(ctx, w, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// runJob invokes the handler for one claimed job and enforces the settlement
// contract: every delivered job must end completed or failed.
func (q *Queue) runJob(ctx context.Context, w *worker, job *Job) {
	logger := w.logger.With(logging.String(logging.FieldJobID, job.ID))
	start := time.Now()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go q.maintainHeartbeat(heartbeatCtx, job.ID)

	handlerErr := q.invokeHandler(ctx, w, job)

	stopHeartbeat()

	stored, err := q.GetJob(ctx, job.ID)
	if err != nil {
		logger.Error("job state lookup failed after handler", logging.Error(err))
		return
	}
	if stored != nil && stored.Settled() {
		if handlerErr != nil {
			logger.Warn("handler returned error after settling job",
				logging.Error(handlerErr),
				logging.Duration("elapsed", time.Since(start)))
		}
		return
	}

	// A handler that returns without calling Complete or Fail is a bug; the
	// job would otherwise sit active until the heartbeat reclaimer loops it
	// forever. Fail it so the defect is visible.
	if handlerErr == nil {
		handlerErr = errors.New("handler returned without settling job")
	}
	logger.Error("job not settled by handler; failing defensively",
		logging.Error(handlerErr),
		logging.Duration("elapsed", time.Since(start)))
	if failErr := q.Fail(ctx, w.queue, job.ID, handlerErr); failErr != nil {
		logger.Error("defensive fail did not apply", logging.Error(failErr))
	}
}

func (q *Queue) invokeHandler(ctx context.Context, w *worker, job *Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return w.handler(ctx, job)
}

func (q *Queue) maintainHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(q.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := q.db.ExecContext(ctx,
				`UPDATE queue_jobs SET heartbeat_at = ? WHERE id = ? AND state = ?`,
				timestamp(time.Now()), jobID, StateActive)
			if err != nil && ctx.Err() == nil {
				q.logger.Warn("heartbeat update failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
			}
		}
	}
}

// claimBatch atomically moves up to limit visible jobs to active. SQLite's
// single-writer model makes the select-then-update transaction race-free
// across worker goroutines sharing this connection pool.
func (q *Queue) claimBatch(ctx context.Context, name string, limit int) ([]*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs
         WHERE queue = ? AND state = ? AND visible_at <= ?
         ORDER BY created_at LIMIT ?`,
		name, StateCreated, timestamp(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	started := now.UTC()
	for _, job := range jobs {
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET state = ?, started_at = ?, heartbeat_at = ?
             WHERE id = ? AND state = ?`,
			StateActive, timestamp(started), timestamp(started), job.ID, StateCreated)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		if affected, err := res.RowsAffected(); err != nil || affected == 0 {
			return nil, fmt.Errorf("claim job %s: lost race", job.ID)
		}
		job.State = StateActive
		job.StartedAt = &started
		job.HeartbeatAt = &started
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return jobs, nil
}

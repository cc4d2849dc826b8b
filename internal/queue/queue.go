package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"scoville/internal/logging"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS queue_names (
    name       TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_jobs (
    id          TEXT PRIMARY KEY,
    queue       TEXT NOT NULL REFERENCES queue_names(name),
    payload     TEXT NOT NULL,
    state       TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    created_at  TEXT NOT NULL,
    visible_at  TEXT NOT NULL,
    started_at  TEXT,
    finished_at TEXT,
    heartbeat_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_jobs_claim
    ON queue_jobs(queue, state, visible_at, created_at);

CREATE TABLE IF NOT EXISTS queue_schedules (
    id         TEXT PRIMARY KEY,
    queue      TEXT NOT NULL REFERENCES queue_names(name),
    cron_expr  TEXT NOT NULL,
    timezone   TEXT NOT NULL,
    payload    TEXT NOT NULL,
    next_run   TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(queue, cron_expr, payload)
);
`

// ErrUnknownQueue is returned when sending to a queue that was never created.
// Misconfiguration stays visible instead of silently parking jobs.
var ErrUnknownQueue = errors.New("unknown queue")

// Options tunes queue-wide behavior.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Location          *time.Location

	// OnJobSettled, when set, is invoked after every successful Complete or
	// Fail transition. Callers use it to feed counters; it must not block.
	OnJobSettled func(queue string, failed bool)
}

// Queue is a database-backed, at-least-once job queue with named queues,
// cron schedules, and registered workers. Delivery is at-least-once: a
// crashed worker's jobs are reclaimed after the heartbeat timeout, so
// handlers must tolerate duplicate execution.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	location          *time.Location
	onSettled         func(queue string, failed bool)

	mu      sync.Mutex
	workers []*worker
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New prepares the queue's tables on the shared database connection.
func New(db *sql.DB, logger *slog.Logger, opts Options) (*Queue, error) {
	if db == nil {
		return nil, errors.New("queue requires a database")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.HeartbeatTimeout <= opts.HeartbeatInterval {
		opts.HeartbeatTimeout = 8 * opts.HeartbeatInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &Queue{
		db:                db,
		logger:            logging.WithComponent(logger, "queue"),
		pollInterval:      opts.PollInterval,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		location:          opts.Location,
		onSettled:         opts.OnJobSettled,
	}, nil
}

// CreateQueue registers a named queue. Idempotent.
func (q *Queue) CreateQueue(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("queue name required")
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_names (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("create queue %q: %w", name, err)
	}
	return nil
}

// Send enqueues a payload on a named queue and returns the job id.
func (q *Queue) Send(ctx context.Context, name string, payload any) (string, error) {
	known, err := q.queueExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !known {
		return "", fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_jobs (id, queue, payload, state, created_at, visible_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, string(body), StateCreated, timestamp(now), timestamp(now))
	if err != nil {
		return "", fmt.Errorf("send job: %w", err)
	}
	return id, nil
}

// Schedule registers a recurring cron-driven send. The expression uses the
// standard five-field format evaluated in tz. Idempotent per
// (queue, expression, payload).
func (q *Queue) Schedule(ctx context.Context, name, cronExpr string, payload any, tz string) error {
	known, err := q.queueExists(ctx, name)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}

	location := q.location
	if strings.TrimSpace(tz) != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("schedule timezone %q: %w", tz, err)
		}
	}

	spec, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", cronExpr, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}

	now := time.Now().In(location)
	next := spec.Next(now)
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_schedules (id, queue, cron_expr, timezone, payload, next_run, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(queue, cron_expr, payload) DO UPDATE SET timezone = excluded.timezone`,
		uuid.NewString(), name, cronExpr, location.String(), string(body),
		timestamp(next), timestamp(now))
	if err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	return nil
}

// Complete marks a job as successfully processed.
func (q *Queue) Complete(ctx context.Context, name, jobID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_jobs SET state = ?, finished_at = ?, heartbeat_at = NULL
         WHERE id = ? AND queue = ? AND state = ?`,
		StateCompleted, timestamp(time.Now()), jobID, name, StateActive)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete job rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("complete job %s: not active on queue %q", jobID, name)
	}
	if q.onSettled != nil {
		q.onSettled(name, false)
	}
	return nil
}

// Fail records the error on a job and marks it failed. Re-driving failed
// source-level work is deliberately left to the next cron tick rather than
// an internal retry loop.
func (q *Queue) Fail(ctx context.Context, name, jobID string, info error) error {
	message := "failure not described"
	if info != nil {
		message = info.Error()
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_jobs SET state = ?, error = ?, finished_at = ?, heartbeat_at = NULL
         WHERE id = ? AND queue = ? AND state = ?`,
		StateFailed, message, timestamp(time.Now()), jobID, name, StateActive)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail job rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fail job %s: not active on queue %q", jobID, name)
	}
	if q.onSettled != nil {
		q.onSettled(name, true)
	}
	return nil
}

// GetJob fetches one job by id. Returns nil when absent.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs on a queue, newest first, up to limit.
func (q *Queue) List(ctx context.Context, name string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE queue = ? ORDER BY created_at DESC LIMIT ?`,
		name, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// QueueStats returns per-state counts for every named queue.
func (q *Queue) QueueStats(ctx context.Context) ([]Stats, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT n.name, COALESCE(j.state, ''), COUNT(j.id)
         FROM queue_names n LEFT JOIN queue_jobs j ON j.queue = n.name
         GROUP BY n.name, j.state ORDER BY n.name`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	byName := map[string]*Stats{}
	var order []string
	for rows.Next() {
		var (
			name  string
			state string
			count int
		)
		if err := rows.Scan(&name, &state, &count); err != nil {
			return nil, err
		}
		stats, ok := byName[name]
		if !ok {
			stats = &Stats{Queue: name}
			byName[name] = stats
			order = append(order, name)
		}
		switch State(state) {
		case StateCreated:
			stats.Created = count
		case StateActive:
			stats.Active = count
		case StateCompleted:
			stats.Completed = count
		case StateFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]Stats, 0, len(order))
	for _, name := range order {
		result = append(result, *byName[name])
	}
	return result, nil
}

// RetryFailed moves failed jobs on a queue back to created. Returns the
// number of jobs re-driven.
func (q *Queue) RetryFailed(ctx context.Context, name string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_jobs
         SET state = ?, error = NULL, started_at = NULL, finished_at = NULL,
             retry_count = retry_count + 1, visible_at = ?
         WHERE queue = ? AND state = ?`,
		StateCreated, timestamp(time.Now()), name, StateFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearSettled removes completed and failed jobs older than cutoff.
func (q *Queue) ClearSettled(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM queue_jobs WHERE state IN (?, ?) AND finished_at < ?`,
		StateCompleted, StateFailed, timestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("clear settled jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale returns active jobs with expired heartbeats to created so
// another worker can pick them up. This is the at-least-once redelivery
// path after a crash.
func (q *Queue) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.heartbeatTimeout)
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_jobs
         SET state = ?, started_at = NULL, heartbeat_at = NULL,
             retry_count = retry_count + 1, visible_at = ?
         WHERE state = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		StateCreated, timestamp(time.Now()), StateActive, timestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (q *Queue) queueExists(ctx context.Context, name string) (bool, error) {
	var found int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM queue_names WHERE name = ?`, name).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check queue %q: %w", name, err)
	}
	return found > 0, nil
}

const jobColumns = "id, queue, payload, state, retry_count, error, created_at, visible_at, started_at, finished_at, heartbeat_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		payload      string
		state        string
		errMsg       sql.NullString
		createdRaw   string
		visibleRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(&job.ID, &job.Queue, &payload, &state, &job.RetryCount,
		&errMsg, &createdRaw, &visibleRaw, &startedRaw, &finishedRaw, &heartbeatRaw); err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(payload)
	job.State = State(state)
	job.Error = errMsg.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if visible, err := parseTimeString(visibleRaw); err == nil {
		job.VisibleAt = visible
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finishedRaw)
	job.HeartbeatAt = parseNullableTime(heartbeatRaw)
	return &job, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

package queue

import (
	"context"
	"encoding/json"
	"time"
)

// State is the lifecycle state of a durable job.
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is the queue-level unit of work. Payload shapes are owned by the
// producing component; the queue treats them as opaque JSON.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	State       State
	RetryCount  int
	Error       string
	CreatedAt   time.Time
	VisibleAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	HeartbeatAt *time.Time
}

// Settled reports whether the job has reached a terminal state.
func (j *Job) Settled() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// WorkOptions tunes a registered worker.
type WorkOptions struct {
	// BatchSize is how many jobs one poll claims. Jobs within a batch run
	// sequentially.
	BatchSize int
	// PollInterval overrides the queue-wide poll interval when positive.
	PollInterval time.Duration
}

// Handler processes one claimed job. The handler must settle every job it
// receives by calling Complete or Fail; the worker treats an unsettled job
// as a handler bug and fails it defensively.
type Handler func(ctx context.Context, job *Job) error

// Schedule describes a recurring cron-driven send.
type Schedule struct {
	ID        string
	Queue     string
	CronExpr  string
	Timezone  string
	Payload   json.RawMessage
	NextRun   time.Time
	CreatedAt time.Time
}

// Stats aggregates job counts per state for one named queue.
type Stats struct {
	Queue     string
	Created   int
	Active    int
	Completed int
	Failed    int
}

package transcribe

import (
	"time"

	"scoville/internal/services/whisper"
)

// Priority orders job selection; lower values are served first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

// ParsePriority maps a string to a Priority, defaulting to medium.
func ParsePriority(value string) Priority {
	switch value {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is the ephemeral in-process record of one transcription attempt. It is
// never persisted; the periodic sweep removes settled jobs by age.
type Job struct {
	ID         string
	VideoID    string
	AudioPath  string
	Options    whisper.Options
	Priority   Priority
	MaxRetries int
	RetryCount int
	Status     Status

	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	NextAttemptAt time.Time

	Result *whisper.Result
	Error  string

	seq uint64
}

// clone returns a copy safe to hand outside the queue's lock.
func (j *Job) clone() *Job {
	copied := *j
	if j.StartedAt != nil {
		started := *j.StartedAt
		copied.StartedAt = &started
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		copied.FinishedAt = &finished
	}
	if j.Result != nil {
		result := *j.Result
		copied.Result = &result
	}
	return &copied
}

// QueueStats summarizes queue state for observability.
type QueueStats struct {
	Pending             int
	Processing          int
	Completed           int
	Failed              int
	Cancelled           int
	AverageProcessingMS float64
}

// JobSummary is the per-job view returned by QueueStatus.
type JobSummary struct {
	ID         string
	VideoID    string
	Priority   string
	Status     Status
	RetryCount int
	CreatedAt  time.Time
}

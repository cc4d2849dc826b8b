package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scoville/internal/logging"
	"scoville/internal/services"
	"scoville/internal/services/whisper"
)

// Transcriber runs a single transcription and reports the outcome in-band.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result
}

// CleanupFunc releases per-video scratch space once a job settles.
type CleanupFunc func(videoID string)

// Config controls admission, retry, and sweep behavior.
type Config struct {
	MaxConcurrentJobs int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	CleanupAge        time.Duration
	SweepInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 300 * time.Second
	}
	if c.CleanupAge <= 0 {
		c.CleanupAge = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

// Queue is the in-process transcription queue. Jobs are held in memory only
// and ordered by priority then arrival; at most MaxConcurrentJobs run at once.
type Queue struct {
	cfg         Config
	transcriber Transcriber
	cleanup     CleanupFunc
	logger      *slog.Logger

	mu         sync.Mutex
	jobs       map[string]*Job
	seq        uint64
	processing int
	cleaned    map[string]bool

	totalProcessingMS float64
	completedCount    int

	timers map[string]*time.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewQueue builds a queue; call Start before adding jobs.
func NewQueue(cfg Config, transcriber Transcriber, cleanup CleanupFunc, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:         cfg.withDefaults(),
		transcriber: transcriber,
		cleanup:     cleanup,
		logger:      logging.WithComponent(logger, "transcribe"),
		jobs:        make(map[string]*Job),
		cleaned:     make(map[string]bool),
		timers:      make(map[string]*time.Timer),
	}
}

// Start begins accepting jobs and launches the age sweep.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.running = true
	q.wg.Add(1)
	go q.runSweep()
	q.logger.Info("transcription queue started",
		"max_concurrent", q.cfg.MaxConcurrentJobs,
		"max_retries", q.cfg.MaxRetries)
}

// Stop cancels in-flight work and waits for workers to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("transcription queue stopped")
}

// AddJob enqueues a transcription and returns its job ID. maxRetries below
// zero falls back to the queue default.
func (q *Queue) AddJob(videoID, audioPath string, opts whisper.Options, priority Priority, maxRetries int) (string, error) {
	if videoID == "" || audioPath == "" {
		return "", services.Wrap(services.ErrValidation, "transcribe", "add_job", "video id and audio path are required", nil)
	}
	if maxRetries < 0 {
		maxRetries = q.cfg.MaxRetries
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return "", services.Wrap(services.ErrValidation, "transcribe", "add_job", "queue is not running", nil)
	}

	q.seq++
	job := &Job{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		AudioPath:  audioPath,
		Options:    opts,
		Priority:   priority,
		MaxRetries: maxRetries,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		seq:        q.seq,
	}
	job.NextAttemptAt = job.CreatedAt
	q.jobs[job.ID] = job

	q.logger.Info("transcription job queued",
		logging.FieldJobID, job.ID,
		logging.FieldVideoID, videoID,
		"priority", priority.String())

	q.advanceLocked()
	return job.ID, nil
}

// GetJob returns a snapshot of the job, or nil if unknown.
func (q *Queue) GetJob(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	return job.clone()
}

// GetJobsForVideo returns snapshots of all jobs for a video.
func (q *Queue) GetJobsForVideo(videoID string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for _, job := range q.jobs {
		if job.VideoID == videoID {
			out = append(out, job.clone())
		}
	}
	return out
}

// CancelJob cancels a pending job. Jobs already processing or settled are
// left alone.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "transcribe", "cancel_job", fmt.Sprintf("job %s not found", id), nil)
	}
	if job.Status != StatusPending {
		return services.Wrap(services.ErrValidation, "transcribe", "cancel_job",
			fmt.Sprintf("job %s is %s and cannot be cancelled", id, job.Status), nil)
	}
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	q.settleLocked(job, StatusCancelled, nil, "cancelled")
	return nil
}

// WaitForJob polls until the job settles or the timeout elapses. The settled
// job snapshot is returned; a timeout yields an error with the latest state.
func (q *Queue) WaitForJob(id string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job := q.GetJob(id)
		if job == nil {
			return nil, services.Wrap(services.ErrNotFound, "transcribe", "wait_for_job", fmt.Sprintf("job %s not found", id), nil)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return job, services.Wrap(services.ErrTimeout, "transcribe", "wait_for_job",
				fmt.Sprintf("job %s still %s after %s", id, job.Status, timeout), nil)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Stats returns aggregate queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := QueueStats{}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	if q.completedCount > 0 {
		stats.AverageProcessingMS = q.totalProcessingMS / float64(q.completedCount)
	}
	return stats
}

// QueueStatus returns per-job summaries alongside the aggregate stats.
func (q *Queue) QueueStatus() (QueueStats, []JobSummary) {
	stats := q.Stats()
	q.mu.Lock()
	defer q.mu.Unlock()
	summaries := make([]JobSummary, 0, len(q.jobs))
	for _, job := range q.jobs {
		summaries = append(summaries, JobSummary{
			ID:         job.ID,
			VideoID:    job.VideoID,
			Priority:   job.Priority.String(),
			Status:     job.Status,
			RetryCount: job.RetryCount,
			CreatedAt:  job.CreatedAt,
		})
	}
	return stats, summaries
}

// advanceLocked starts eligible pending jobs while capacity remains. Caller
// holds q.mu.
func (q *Queue) advanceLocked() {
	if !q.running {
		return
	}
	now := time.Now()
	for q.processing < q.cfg.MaxConcurrentJobs {
		next := q.selectNextLocked(now)
		if next == nil {
			return
		}
		started := time.Now().UTC()
		next.Status = StatusProcessing
		next.StartedAt = &started
		q.processing++
		q.wg.Add(1)
		go q.runJob(next.ID)
	}
}

// selectNextLocked picks the eligible pending job with the best priority,
// breaking ties by arrival order.
func (q *Queue) selectNextLocked(now time.Time) *Job {
	var best *Job
	for _, job := range q.jobs {
		if job.Status != StatusPending || job.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || job.Priority < best.Priority ||
			(job.Priority == best.Priority && job.seq < best.seq) {
			best = job
		}
	}
	return best
}

func (q *Queue) runJob(id string) {
	defer q.wg.Done()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.processing--
		q.mu.Unlock()
		return
	}
	videoID := job.VideoID
	audioPath := job.AudioPath
	opts := job.Options
	ctx := q.ctx
	q.mu.Unlock()

	q.logger.Info("transcription started", logging.FieldJobID, id, logging.FieldVideoID, videoID)
	result := q.transcriber.Transcribe(ctx, audioPath, videoID, opts)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
	job, ok = q.jobs[id]
	if !ok {
		q.advanceLocked()
		return
	}

	if result.Success {
		q.settleLocked(job, StatusCompleted, &result, "")
		q.totalProcessingMS += float64(result.ProcessingTimeMS)
		q.completedCount++
	} else if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		delay := q.retryDelay(job.RetryCount)
		job.Status = StatusPending
		job.StartedAt = nil
		job.NextAttemptAt = time.Now().Add(delay)
		job.Error = result.Error
		q.logger.Warn("transcription attempt failed, retrying",
			logging.FieldJobID, id,
			logging.FieldVideoID, videoID,
			"retry", job.RetryCount,
			"delay", delay.String(),
			"error", result.Error)
		q.scheduleRetryLocked(job.ID, delay)
	} else {
		q.settleLocked(job, StatusFailed, &result, result.Error)
	}

	q.advanceLocked()
}

// retryDelay grows exponentially from the base and is capped at the max.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := q.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.RetryMaxDelay {
			return q.cfg.RetryMaxDelay
		}
	}
	if delay > q.cfg.RetryMaxDelay {
		return q.cfg.RetryMaxDelay
	}
	return delay
}

func (q *Queue) scheduleRetryLocked(id string, delay time.Duration) {
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, id)
		q.advanceLocked()
	})
}

// settleLocked finalizes a job and runs the cleanup callback exactly once per
// job, regardless of how the job ended. Caller holds q.mu.
func (q *Queue) settleLocked(job *Job, status Status, result *whisper.Result, errMsg string) {
	finished := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &finished
	job.Result = result
	if errMsg != "" {
		job.Error = errMsg
	}

	switch status {
	case StatusCompleted:
		q.logger.Info("transcription completed", logging.FieldJobID, job.ID, logging.FieldVideoID, job.VideoID)
	case StatusFailed:
		q.logger.Error("transcription failed", logging.FieldJobID, job.ID, logging.FieldVideoID, job.VideoID, "error", job.Error)
	case StatusCancelled:
		q.logger.Info("transcription cancelled", logging.FieldJobID, job.ID, logging.FieldVideoID, job.VideoID)
	}

	if q.cleanup != nil && !q.cleaned[job.ID] {
		q.cleaned[job.ID] = true
		videoID := job.VideoID
		go q.cleanup(videoID)
	}
}

// runSweep removes settled jobs once they age out, bounding memory.
func (q *Queue) runSweep() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	cutoff := time.Now().Add(-q.cfg.CleanupAge)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			delete(q.cleaned, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("swept settled transcription jobs", "removed", removed)
	}
}

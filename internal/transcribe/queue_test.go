package transcribe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"scoville/internal/services/whisper"
	"scoville/internal/transcribe"
)

// gateTranscriber blocks each invocation until released and records the
// order in which jobs reach it.
type gateTranscriber struct {
	mu      sync.Mutex
	order   []string
	started chan string
	release chan struct{}
	results map[string]whisper.Result
}

func newGateTranscriber() *gateTranscriber {
	return &gateTranscriber{
		started: make(chan string, 16),
		release: make(chan struct{}, 16),
		results: make(map[string]whisper.Result),
	}
}

func (g *gateTranscriber) Transcribe(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result {
	g.mu.Lock()
	g.order = append(g.order, videoID)
	result, ok := g.results[videoID]
	g.mu.Unlock()
	g.started <- videoID
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	if ok {
		return result
	}
	return whisper.Result{Text: "transcript of " + videoID, Success: true}
}

func (g *gateTranscriber) startedOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func waitStarted(t *testing.T, g *gateTranscriber) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("no transcription started in time")
		return ""
	}
}

func newTestQueue(t *testing.T, cfg transcribe.Config, tr transcribe.Transcriber, cleanup transcribe.CleanupFunc) *transcribe.Queue {
	t.Helper()
	q := transcribe.NewQueue(cfg, tr, cleanup, nil)
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func TestPriorityThenArrivalOrder(t *testing.T) {
	gate := newGateTranscriber()
	q := newTestQueue(t, transcribe.Config{MaxConcurrentJobs: 1}, gate, nil)

	// Occupy the single slot so the remaining jobs queue up.
	if _, err := q.AddJob("blocker", "/tmp/blocker.m4a", whisper.Options{}, transcribe.PriorityHigh, 0); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitStarted(t, gate)

	add := func(videoID string, priority transcribe.Priority) {
		if _, err := q.AddJob(videoID, "/tmp/"+videoID+".m4a", whisper.Options{}, priority, 0); err != nil {
			t.Fatalf("AddJob %s: %v", videoID, err)
		}
	}
	add("v1", transcribe.PriorityLow)
	add("v2", transcribe.PriorityHigh)
	add("v3", transcribe.PriorityMedium)

	for i := 0; i < 4; i++ {
		gate.release <- struct{}{}
	}
	for i := 0; i < 3; i++ {
		waitStarted(t, gate)
	}

	got := gate.startedOrder()
	want := []string{"blocker", "v2", "v3", "v1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	gate := newGateTranscriber()
	q := newTestQueue(t, transcribe.Config{MaxConcurrentJobs: 2}, gate, nil)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if _, err := q.AddJob(id, "/tmp/"+id+".m4a", whisper.Options{}, transcribe.PriorityMedium, 0); err != nil {
			t.Fatalf("AddJob: %v", err)
		}
	}

	waitStarted(t, gate)
	waitStarted(t, gate)

	stats := q.Stats()
	if stats.Processing != 2 {
		t.Fatalf("processing = %d, want 2", stats.Processing)
	}
	if stats.Pending != 3 {
		t.Fatalf("pending = %d, want 3", stats.Pending)
	}

	for i := 0; i < 5; i++ {
		gate.release <- struct{}{}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	tr := transcriberFunc(func(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return whisper.Result{Success: false, Error: "model crashed"}
		}
		return whisper.Result{Text: "ok", Success: true}
	})

	q := newTestQueue(t, transcribe.Config{
		MaxConcurrentJobs: 1,
		MaxRetries:        2,
		RetryBaseDelay:    10 * time.Millisecond,
		RetryMaxDelay:     50 * time.Millisecond,
	}, tr, nil)

	id, err := q.AddJob("vid", "/tmp/vid.m4a", whisper.Options{}, transcribe.PriorityMedium, -1)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	job, err := q.WaitForJob(id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}
	if job.Status != transcribe.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", job.RetryCount)
	}
	if job.Result == nil || job.Result.Text != "ok" {
		t.Fatalf("unexpected result: %+v", job.Result)
	}
}

func TestFailureAfterMaxRetriesRunsCleanupOnce(t *testing.T) {
	tr := transcriberFunc(func(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result {
		return whisper.Result{Success: false, Error: "no speech"}
	})

	cleanups := make(chan string, 4)
	q := newTestQueue(t, transcribe.Config{
		MaxConcurrentJobs: 1,
		MaxRetries:        1,
		RetryBaseDelay:    5 * time.Millisecond,
		RetryMaxDelay:     10 * time.Millisecond,
	}, tr, func(videoID string) { cleanups <- videoID })

	id, err := q.AddJob("vid", "/tmp/vid.m4a", whisper.Options{}, transcribe.PriorityMedium, -1)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	job, err := q.WaitForJob(id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}
	if job.Status != transcribe.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", job.RetryCount)
	}

	select {
	case got := <-cleanups:
		if got != "vid" {
			t.Fatalf("cleanup for %q, want vid", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup never ran")
	}
	select {
	case <-cleanups:
		t.Fatal("cleanup ran twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelOnlyPendingJobs(t *testing.T) {
	gate := newGateTranscriber()
	q := newTestQueue(t, transcribe.Config{MaxConcurrentJobs: 1}, gate, nil)

	runningID, err := q.AddJob("running", "/tmp/running.m4a", whisper.Options{}, transcribe.PriorityMedium, 0)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitStarted(t, gate)

	pendingID, err := q.AddJob("pending", "/tmp/pending.m4a", whisper.Options{}, transcribe.PriorityMedium, 0)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := q.CancelJob(pendingID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if job := q.GetJob(pendingID); job.Status != transcribe.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}

	if err := q.CancelJob(runningID); err == nil {
		t.Fatal("expected error cancelling a processing job")
	}

	gate.release <- struct{}{}
}

func TestWaitForJobTimeout(t *testing.T) {
	gate := newGateTranscriber()
	q := newTestQueue(t, transcribe.Config{MaxConcurrentJobs: 1}, gate, nil)

	id, err := q.AddJob("slow", "/tmp/slow.m4a", whisper.Options{}, transcribe.PriorityMedium, 0)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitStarted(t, gate)

	job, err := q.WaitForJob(id, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if job == nil || job.Status != transcribe.StatusProcessing {
		t.Fatalf("unexpected job state: %+v", job)
	}

	gate.release <- struct{}{}
}

type transcriberFunc func(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result

func (f transcriberFunc) Transcribe(ctx context.Context, audioPath, videoID string, opts whisper.Options) whisper.Result {
	return f(ctx, audioPath, videoID, opts)
}

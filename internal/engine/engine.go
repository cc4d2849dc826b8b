package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"scoville/internal/analysis"
	"scoville/internal/config"
	"scoville/internal/ingest"
	"scoville/internal/logging"
	"scoville/internal/queue"
	"scoville/internal/services"
	"scoville/internal/services/llm"
	"scoville/internal/services/whisper"
	"scoville/internal/services/ytdlp"
	"scoville/internal/sources"
	"scoville/internal/store"
	"scoville/internal/tmpfiles"
	"scoville/internal/transcribe"
)

// Engine wires the whole pipeline together: store, durable queue, local
// transcription queue, ingestion handlers, analysis worker, and the HTTP
// API. One engine instance runs per data directory, enforced by a lock
// file.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	lock        *flock.Flock
	store       *store.Store
	queue       *queue.Queue
	transcriber *transcribe.Queue
	scratch     *tmpfiles.Manager
	metrics     *Metrics
	api         *apiServer

	ready   atomic.Bool
	apiAddr atomic.Value
}

// New builds an engine from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "engine"),
		metrics: NewMetrics(),
	}
}

// Ready reports whether startup completed and workers are running.
func (e *Engine) Ready() bool { return e.ready.Load() }

// APIAddr returns the bound API address, or "" before the listener is up.
// Useful when the configured bind requests an ephemeral port.
func (e *Engine) APIAddr() string {
	if addr, ok := e.apiAddr.Load().(string); ok {
		return addr
	}
	return ""
}

// Run starts the engine and blocks until ctx is cancelled. It returns a
// non-nil error when startup fails; the daemon exits non-zero on that path.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.acquireLock(); err != nil {
		return err
	}
	defer e.releaseLock()

	// The API server comes up first so /healthz answers while the store
	// connect retries are still running.
	apiSrv, err := newAPIServer(e.cfg, e, e.logger)
	if err != nil {
		return err
	}
	e.api = apiSrv
	if e.api != nil {
		if err := e.api.start(ctx); err != nil {
			return err
		}
		defer e.api.stop()
		e.apiAddr.Store(e.api.listener.Addr().String())
	}

	st, err := e.openStoreWithRetry(ctx)
	if err != nil {
		return err
	}
	e.store = st
	defer func() {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("store close failed", "error", err)
		}
	}()

	if err := e.boot(ctx); err != nil {
		return err
	}

	e.ready.Store(true)
	e.logger.Info("engine running", "db", e.store.Path(), "api_bind", e.cfg.Paths.APIBind)

	go e.refreshMetrics(ctx)

	<-ctx.Done()
	e.ready.Store(false)
	e.logger.Info("shutting down")

	e.queue.Stop()
	e.transcriber.Stop()
	e.scratch.CleanupAll()
	return nil
}

// boot constructs the collaborators and starts the workers.
func (e *Engine) boot(ctx context.Context) error {
	runner := &services.ExecRunner{}

	whisperSvc := whisper.NewService(whisper.Config{
		Binary:       e.cfg.Transcription.WhisperBinary,
		Model:        e.cfg.Transcription.Model,
		TimeoutFloor: time.Duration(e.cfg.Transcription.TimeoutFloor) * time.Second,
		TimeoutPerMB: time.Duration(e.cfg.Transcription.TimeoutPerMB) * time.Second,
	}, runner, e.logger)

	e.scratch = tmpfiles.NewManager(e.cfg.Paths.WorkDir, e.logger)
	e.transcriber = transcribe.NewQueue(transcribe.Config{
		MaxConcurrentJobs: e.cfg.Transcription.MaxConcurrentJobs,
		MaxRetries:        e.cfg.Transcription.MaxRetries,
		RetryBaseDelay:    time.Duration(e.cfg.Transcription.RetryBaseDelay) * time.Second,
		RetryMaxDelay:     time.Duration(e.cfg.Transcription.RetryMaxDelay) * time.Second,
		CleanupAge:        time.Duration(e.cfg.Transcription.CleanupAge) * time.Second,
	}, whisperSvc, e.scratch.Cleanup, e.logger)
	e.transcriber.Start()

	mediaClient := ytdlp.NewClient(ytdlp.Config{Binary: e.cfg.YouTube.YtDlpBinary}, runner, e.logger)
	rssFetcher := sources.NewRSSFetcher(time.Duration(e.cfg.Ingest.FetchTimeout)*time.Second, e.logger)
	ytClient := sources.NewYouTubeClient(e.cfg.YouTube.APIKey, e.cfg.YouTube.MaxResults, e.logger)
	puller := sources.NewPuller(rssFetcher, ytClient, mediaClient, e.store, e.logger)

	q, err := queue.New(e.store.DB(), e.logger, queue.Options{
		PollInterval:      time.Duration(e.cfg.Queue.PollInterval) * time.Second,
		HeartbeatInterval: time.Duration(e.cfg.Queue.HeartbeatInterval) * time.Second,
		HeartbeatTimeout:  time.Duration(e.cfg.Queue.HeartbeatTimeout) * time.Second,
		Location:          e.cfg.Location(),
		OnJobSettled:      e.metrics.RecordJobSettled,
	})
	if err != nil {
		return err
	}
	e.queue = q

	extractor := ingest.NewArticleExtractor(time.Duration(e.cfg.Ingest.FetchTimeout)*time.Second, e.logger)
	pipeline := ingest.NewPipeline(e.cfg, e.store, q, puller, mediaClient, e.transcriber, extractor, e.scratch, e.logger)

	llmClient := llm.NewClient(llm.Config{
		APIKey:              e.cfg.LLM.APIKey,
		BaseURL:             e.cfg.LLM.BaseURL,
		Model:               e.cfg.LLM.Model,
		EmbeddingModel:      e.cfg.LLM.EmbeddingModel,
		EmbeddingDimensions: e.cfg.LLM.EmbeddingDimensions,
		TimeoutSeconds:      e.cfg.LLM.TimeoutSeconds,
	})
	if !llmClient.Configured() {
		e.logger.Warn("no llm api key configured, analysis runs on the deterministic stub path")
	}
	analyzer := analysis.NewWorker(e.store, q, llmClient, e.logger)

	for _, name := range config.QueueNames() {
		if err := q.CreateQueue(ctx, name); err != nil {
			return err
		}
	}
	if err := pipeline.RegisterWorkers(); err != nil {
		return err
	}
	if err := analyzer.Register(e.cfg.BatchSize(config.QueueAnalyzeStory)); err != nil {
		return err
	}

	tz := e.cfg.Queue.Timezone
	if err := q.Schedule(ctx, config.QueuePullSources, e.cfg.Ingest.RSSPullCron,
		ingest.PullPayload{Source: ingest.PullGroupRSS}, tz); err != nil {
		return err
	}
	if err := q.Schedule(ctx, config.QueuePullSources, e.cfg.Ingest.VideoPullCron,
		ingest.PullPayload{Source: ingest.PullGroupVideo}, tz); err != nil {
		return err
	}
	if err := q.Schedule(ctx, config.QueueCleanupOrphan, "0 * * * *",
		ingest.CleanupPayload{MaxAgeHours: 24}, tz); err != nil {
		return err
	}

	// Kick an initial pull so a fresh install does not wait for the first
	// cron tick.
	for _, group := range []string{ingest.PullGroupRSS, ingest.PullGroupVideo} {
		if _, err := q.Send(ctx, config.QueuePullSources, ingest.PullPayload{Source: group}); err != nil {
			return err
		}
	}

	return q.Start(ctx)
}

// openStoreWithRetry attempts the store connection with fixed-delay retries
// before giving up. /healthz stays responsive throughout.
func (e *Engine) openStoreWithRetry(ctx context.Context) (*store.Store, error) {
	retries := e.cfg.Queue.StartupRetries
	if retries <= 0 {
		retries = 3
	}
	delay := time.Duration(e.cfg.Queue.StartupRetryDelay) * time.Second
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var st *store.Store
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
	err := backoff.Retry(func() error {
		opened, openErr := store.Open(e.cfg)
		if openErr != nil {
			e.logger.Warn("store open failed, retrying", "error", openErr, "delay", delay.String())
			return openErr
		}
		st = opened
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("open store after %d retries: %w", retries, err)
	}
	return st, nil
}

func (e *Engine) acquireLock() error {
	lockPath := filepath.Join(e.cfg.Paths.DataDir, "scoville.lock")
	e.lock = flock.New(lockPath)
	locked, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("another engine instance holds %s", lockPath)
	}
	return nil
}

func (e *Engine) releaseLock() {
	if e.lock == nil {
		return
	}
	if err := e.lock.Unlock(); err != nil {
		e.logger.Warn("release lock failed", "error", err)
	}
}

// Status summarizes engine state for the API and CLI.
type Status struct {
	Ready       bool                  `json:"ready"`
	Stories     int                   `json:"stories"`
	Queues      []queue.Stats         `json:"queues"`
	Transcriber transcribe.QueueStats `json:"transcriber"`
}

// Status gathers current counters. Safe to call only once Ready.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	if !e.Ready() {
		return &Status{Ready: false}, nil
	}
	stories, err := e.store.CountStories(ctx)
	if err != nil {
		return nil, err
	}
	queues, err := e.queue.QueueStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Ready:       true,
		Stories:     stories,
		Queues:      queues,
		Transcriber: e.transcriber.Stats(),
	}, nil
}

// refreshMetrics keeps the scrape-facing gauges current.
func (e *Engine) refreshMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !e.Ready() {
			continue
		}
		if stories, err := e.store.CountStories(ctx); err == nil {
			e.metrics.StoriesTotal.Set(float64(stories))
		}
		if stats, err := e.queue.QueueStats(ctx); err == nil {
			for _, stat := range stats {
				e.metrics.QueueDepth.WithLabelValues(stat.Queue, "created").Set(float64(stat.Created))
				e.metrics.QueueDepth.WithLabelValues(stat.Queue, "active").Set(float64(stat.Active))
				e.metrics.QueueDepth.WithLabelValues(stat.Queue, "completed").Set(float64(stat.Completed))
				e.metrics.QueueDepth.WithLabelValues(stat.Queue, "failed").Set(float64(stat.Failed))
			}
		}
	}
}

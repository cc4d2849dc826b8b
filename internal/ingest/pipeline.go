package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"scoville/internal/config"
	"scoville/internal/logging"
	"scoville/internal/queue"
	"scoville/internal/services"
	"scoville/internal/services/whisper"
	"scoville/internal/services/ytdlp"
	"scoville/internal/sources"
	"scoville/internal/store"
	"scoville/internal/tmpfiles"
	"scoville/internal/transcribe"
)

// Pipeline owns the durable-queue handlers that drive ingestion: source
// pulls, article and video extraction, ad-hoc URLs, and settled-job cleanup.
type Pipeline struct {
	cfg         *config.Config
	store       *store.Store
	queue       *queue.Queue
	puller      *sources.Puller
	media       *ytdlp.Client
	transcriber *transcribe.Queue
	extractor   *ArticleExtractor
	scratch     *tmpfiles.Manager
	logger      *slog.Logger
}

// NewPipeline wires the ingestion handlers to their collaborators.
func NewPipeline(
	cfg *config.Config,
	st *store.Store,
	q *queue.Queue,
	puller *sources.Puller,
	media *ytdlp.Client,
	transcriber *transcribe.Queue,
	extractor *ArticleExtractor,
	scratch *tmpfiles.Manager,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       st,
		queue:       q,
		puller:      puller,
		media:       media,
		transcriber: transcriber,
		extractor:   extractor,
		scratch:     scratch,
		logger:      logging.WithComponent(logger, "ingest"),
	}
}

// RegisterWorkers binds every ingestion queue to its handler. Must run
// before the queue starts.
func (p *Pipeline) RegisterWorkers() error {
	bindings := []struct {
		name    string
		handler queue.Handler
	}{
		{config.QueuePullSources, p.HandlePullSources},
		{config.QueuePullSource, p.HandlePullSource},
		{config.QueueExtractRSS, p.HandleArticleBatch},
		{config.QueueExtractVideo, p.HandleVideo},
		{config.QueueIngestURL, p.HandleIngestURL},
		{config.QueueCleanupOrphan, p.HandleCleanup},
	}
	for _, b := range bindings {
		opts := queue.WorkOptions{BatchSize: p.cfg.BatchSize(b.name)}
		if err := p.queue.Work(b.name, opts, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// settle enforces the handler contract: every job ends completed or failed.
func (p *Pipeline) settle(ctx context.Context, name string, job *queue.Job, err error) error {
	if err != nil {
		if failErr := p.queue.Fail(ctx, name, job.ID, err); failErr != nil {
			p.logger.Error("failed to mark job failed", logging.FieldQueue, name, logging.FieldJobID, job.ID, "error", failErr)
		}
		return err
	}
	return p.queue.Complete(ctx, name, job.ID)
}

// HandlePullSources fans a cron tick out to one job per configured source
// of the requested group. Pull jobs carry no retry state; a failed pull is
// re-driven by the next cron tick.
func (p *Pipeline) HandlePullSources(ctx context.Context, job *queue.Job) error {
	var payload PullPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueuePullSources, job, services.Wrap(services.ErrValidation, "ingest", "pull_sources", "decode payload", err))
	}

	var kinds []store.SourceKind
	switch payload.Source {
	case PullGroupRSS:
		kinds = []store.SourceKind{store.SourceRSS}
	case PullGroupVideo:
		kinds = []store.SourceKind{store.SourceYouTubeChannel, store.SourceYouTubeSearch}
	default:
		return p.settle(ctx, config.QueuePullSources, job,
			services.Wrap(services.ErrValidation, "ingest", "pull_sources", fmt.Sprintf("unknown pull group %q", payload.Source), nil))
	}

	srcs, err := p.store.ListSources(ctx, kinds...)
	if err != nil {
		return p.settle(ctx, config.QueuePullSources, job, err)
	}
	for _, src := range srcs {
		if _, err := p.queue.Send(ctx, config.QueuePullSource, PullSourcePayload{SourceID: src.ID, Kind: src.Kind}); err != nil {
			return p.settle(ctx, config.QueuePullSources, job, err)
		}
	}
	p.logger.Info("pull fan-out complete", "group", payload.Source, "sources", len(srcs))
	return p.settle(ctx, config.QueuePullSources, job, nil)
}

// HandlePullSource enumerates one source and enqueues extraction for newly
// discovered items. Re-enumeration is idempotent: known URLs are skipped.
func (p *Pipeline) HandlePullSource(ctx context.Context, job *queue.Job) error {
	var payload PullSourcePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueuePullSource, job, services.Wrap(services.ErrValidation, "ingest", "pull_source", "decode payload", err))
	}

	src, err := p.store.GetSource(ctx, payload.SourceID)
	if err != nil {
		return p.settle(ctx, config.QueuePullSource, job, err)
	}
	if src == nil {
		return p.settle(ctx, config.QueuePullSource, job,
			services.Wrap(services.ErrNotFound, "ingest", "pull_source", fmt.Sprintf("source %s not found", payload.SourceID), nil))
	}

	candidates, err := p.puller.Pull(ctx, src, p.cfg.Ingest.MaxItemsPerSource)
	if err != nil {
		return p.settle(ctx, config.QueuePullSource, job, err)
	}

	var articleIDs []string
	discovered := 0
	for _, candidate := range candidates {
		item, inserted, err := p.store.InsertRawItem(ctx, src.ID, candidate.URL, candidate.Title, candidate.Kind, candidate.ExternalID)
		if err != nil {
			p.logger.Warn("failed to record discovered item",
				logging.FieldSourceID, src.ID, logging.FieldURL, candidate.URL, "error", err)
			continue
		}
		if !inserted {
			continue
		}
		discovered++
		switch item.Kind {
		case store.ItemVideo:
			_, err = p.queue.Send(ctx, config.QueueExtractVideo, VideoPayload{
				RawItemIDs: []string{item.ID},
				VideoID:    item.ExternalID,
				SourceKind: src.Kind,
			})
		default:
			articleIDs = append(articleIDs, item.ID)
		}
		if err != nil {
			return p.settle(ctx, config.QueuePullSource, job, err)
		}
	}
	if len(articleIDs) > 0 {
		if _, err := p.queue.Send(ctx, config.QueueExtractRSS, ArticlePayload{RawItemIDs: articleIDs}); err != nil {
			return p.settle(ctx, config.QueuePullSource, job, err)
		}
	}

	p.logger.Info("source pulled",
		logging.FieldSourceID, src.ID,
		"kind", string(src.Kind),
		"candidates", len(candidates),
		"new", discovered)
	return p.settle(ctx, config.QueuePullSource, job, nil)
}

// HandleArticleBatch extracts a batch of article items. Item failures are
// isolated: one broken page never sinks the batch.
func (p *Pipeline) HandleArticleBatch(ctx context.Context, job *queue.Job) error {
	var payload ArticlePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueueExtractRSS, job, services.Wrap(services.ErrValidation, "ingest", "extract_article", "decode payload", err))
	}

	items, err := p.store.GetRawItems(ctx, payload.RawItemIDs)
	if err != nil {
		return p.settle(ctx, config.QueueExtractRSS, job, err)
	}

	for _, item := range items {
		if err := p.processArticle(ctx, item); err != nil {
			p.logger.Warn("article extraction failed",
				logging.FieldURL, item.URL, "raw_item", item.ID, "error", err)
		}
	}
	return p.settle(ctx, config.QueueExtractRSS, job, nil)
}

func (p *Pipeline) processArticle(ctx context.Context, item *store.RawItem) error {
	if item.ExtractedAt != nil {
		return nil
	}

	extracted, err := p.extractor.Extract(ctx, item.URL)
	if err != nil {
		return err
	}

	title := extracted.Title
	if title == "" {
		title = item.Title
	}
	hash := HashText(extracted.Text)
	story, created, err := p.store.ResolveStory(ctx, hash, title, store.ItemArticle)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug("article deduplicated to existing story",
			logging.FieldURL, item.URL, logging.FieldStoryID, story.ID)
	}
	if _, err := p.store.InsertContent(ctx, item.ID, story.ID, hash, extracted.Language, item.URL, extracted.Text); err != nil {
		return err
	}
	if err := p.store.MarkExtracted(ctx, item.ID); err != nil {
		return err
	}
	if _, err := p.queue.Send(ctx, config.QueueAnalyzeStory, AnalyzePayload{StoryID: story.ID}); err != nil {
		return err
	}
	return nil
}

// HandleVideo runs the full video extraction path for one video: metadata
// and audio via yt-dlp, transcription through the local queue, metadata
// enrichment, dedup, and analysis hand-off. Scratch space for the video id
// is removed on every exit path.
func (p *Pipeline) HandleVideo(ctx context.Context, job *queue.Job) error {
	var payload VideoPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueueExtractVideo, job, services.Wrap(services.ErrValidation, "ingest", "extract_video", "decode payload", err))
	}
	if payload.VideoID == "" {
		return p.settle(ctx, config.QueueExtractVideo, job,
			services.Wrap(services.ErrValidation, "ingest", "extract_video", "payload is missing a video id", nil))
	}
	defer p.scratch.Cleanup(payload.VideoID)

	items, err := p.store.GetRawItems(ctx, payload.RawItemIDs)
	if err != nil {
		return p.settle(ctx, config.QueueExtractVideo, job, err)
	}

	var firstErr error
	for _, item := range items {
		if err := p.processVideo(ctx, item, payload); err != nil {
			p.logger.Warn("video extraction failed",
				logging.FieldVideoID, payload.VideoID, logging.FieldURL, item.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return p.settle(ctx, config.QueueExtractVideo, job, firstErr)
}

func (p *Pipeline) processVideo(ctx context.Context, item *store.RawItem, payload VideoPayload) error {
	if item.ExtractedAt != nil {
		return nil
	}

	dir, err := p.scratch.Allocate(payload.VideoID)
	if err != nil {
		return err
	}

	meta, err := p.media.FetchMetadata(ctx, item.URL)
	if err != nil {
		return err
	}
	audioPath, err := p.media.DownloadAudio(ctx, item.URL, payload.VideoID, dir)
	if err != nil {
		return err
	}

	opts := whisper.Options{
		Language:      p.cfg.Transcription.Language,
		InitialPrompt: p.cfg.Transcription.InitialPrompt,
	}
	jobID, err := p.transcriber.AddJob(payload.VideoID, audioPath, opts, priorityFor(payload.SourceKind), -1)
	if err != nil {
		return err
	}
	tjob, err := p.transcriber.WaitForJob(jobID, p.transcriptionWait(audioPath))
	if err != nil {
		return err
	}
	if tjob.Status != transcribe.StatusCompleted || tjob.Result == nil || !tjob.Result.Success {
		reason := tjob.Error
		if reason == "" {
			reason = "transcription did not complete"
		}
		return services.Wrap(services.ErrExternalTool, "ingest", "extract_video",
			fmt.Sprintf("transcribe %s: %s", payload.VideoID, reason), nil)
	}
	if strings.TrimSpace(tjob.Result.Text) == "" {
		return services.Wrap(services.ErrExternalTool, "ingest", "extract_video",
			fmt.Sprintf("transcription of %s produced no text", payload.VideoID), nil)
	}

	enriched := BuildEnrichedText(meta, *tjob.Result, p.cfg.Ingest.SegmentSampleCount, p.cfg.Ingest.DescriptionExcerpt)
	hash := HashText(enriched)

	title := meta.Title
	if title == "" {
		title = item.Title
	}
	story, created, err := p.store.ResolveStory(ctx, hash, title, store.ItemVideo)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Debug("video deduplicated to existing story",
			logging.FieldVideoID, payload.VideoID, logging.FieldStoryID, story.ID)
	}
	if _, err := p.store.InsertContent(ctx, item.ID, story.ID, hash, tjob.Result.Language, item.URL, enriched); err != nil {
		return err
	}
	if err := p.store.MarkExtracted(ctx, item.ID); err != nil {
		return err
	}
	if _, err := p.queue.Send(ctx, config.QueueAnalyzeStory, AnalyzePayload{StoryID: story.ID}); err != nil {
		return err
	}
	return nil
}

// transcriptionWait bounds the synchronous wait on the local queue: worst
// case is every retry hitting the size-scaled timeout plus capped backoff
// between attempts, with slack for queueing behind other jobs.
func (p *Pipeline) transcriptionWait(audioPath string) time.Duration {
	perAttempt := time.Duration(p.cfg.Transcription.TimeoutFloor) * time.Second
	if info, err := os.Stat(audioPath); err == nil {
		sizeMB := (info.Size() + (1 << 20) - 1) / (1 << 20)
		if scaled := time.Duration(sizeMB*int64(p.cfg.Transcription.TimeoutPerMB)) * time.Second; scaled > perAttempt {
			perAttempt = scaled
		}
	}
	attempts := time.Duration(p.cfg.Transcription.MaxRetries + 1)
	backoff := time.Duration(p.cfg.Transcription.MaxRetries) * time.Duration(p.cfg.Transcription.RetryMaxDelay) * time.Second
	return perAttempt*attempts + backoff + 5*time.Minute
}

func priorityFor(kind store.SourceKind) transcribe.Priority {
	switch kind {
	case store.SourceAdhoc:
		return transcribe.PriorityHigh
	case store.SourceYouTubeSearch:
		return transcribe.PriorityLow
	default:
		return transcribe.PriorityMedium
	}
}

// HandleIngestURL ingests one manually submitted URL, routing it to the
// article or video path by host.
func (p *Pipeline) HandleIngestURL(ctx context.Context, job *queue.Job) error {
	var payload IngestURLPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueueIngestURL, job, services.Wrap(services.ErrValidation, "ingest", "ingest_url", "decode payload", err))
	}
	rawURL := strings.TrimSpace(payload.URL)
	if rawURL == "" {
		return p.settle(ctx, config.QueueIngestURL, job,
			services.Wrap(services.ErrValidation, "ingest", "ingest_url", "url is required", nil))
	}

	src, err := p.store.EnsureAdhocSource(ctx)
	if err != nil {
		return p.settle(ctx, config.QueueIngestURL, job, err)
	}

	kind := store.ItemArticle
	externalID := ""
	if videoID, ok := ExtractVideoID(rawURL); ok {
		kind = store.ItemVideo
		externalID = videoID
	}

	item, inserted, err := p.store.InsertRawItem(ctx, src.ID, rawURL, rawURL, kind, externalID)
	if err != nil {
		return p.settle(ctx, config.QueueIngestURL, job, err)
	}
	if !inserted && item.ExtractedAt != nil {
		p.logger.Info("url already ingested", logging.FieldURL, rawURL)
		return p.settle(ctx, config.QueueIngestURL, job, nil)
	}

	switch kind {
	case store.ItemVideo:
		_, err = p.queue.Send(ctx, config.QueueExtractVideo, VideoPayload{
			RawItemIDs: []string{item.ID},
			VideoID:    externalID,
			SourceKind: store.SourceAdhoc,
		})
	default:
		_, err = p.queue.Send(ctx, config.QueueExtractRSS, ArticlePayload{RawItemIDs: []string{item.ID}})
	}
	return p.settle(ctx, config.QueueIngestURL, job, err)
}

// HandleCleanup prunes settled durable jobs past the retention age.
func (p *Pipeline) HandleCleanup(ctx context.Context, job *queue.Job) error {
	var payload CleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return p.settle(ctx, config.QueueCleanupOrphan, job, services.Wrap(services.ErrValidation, "ingest", "cleanup", "decode payload", err))
	}
	maxAge := payload.MaxAgeHours
	if maxAge <= 0 {
		maxAge = 24
	}
	removed, err := p.queue.ClearSettled(ctx, time.Now().Add(-time.Duration(maxAge)*time.Hour))
	if err != nil {
		return p.settle(ctx, config.QueueCleanupOrphan, job, err)
	}
	p.logger.Info("settled jobs cleared", "removed", removed, "max_age_hours", maxAge)
	return p.settle(ctx, config.QueueCleanupOrphan, job, nil)
}

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scoville/internal/config"
	"scoville/internal/ingest"
	"scoville/internal/logging"
	"scoville/internal/queue"
	"scoville/internal/services"
	"scoville/internal/services/llm"
	"scoville/internal/store"
)

// maxPromptChars bounds the content passed to the model; enrichment already
// front-loads the most informative context.
const maxPromptChars = 12000

const overlaySystemPrompt = `You rate news stories. Respond with JSON only:
{"why_it_matters": "<one or two sentences>", "chili": <0-5 integer heat score>,
"confidence": <0-1>, "citations": ["<supporting quote>", ...]}`

// Worker consumes analyze jobs and attaches an overlay and embedding to
// each story. Generation runs the model path when configured and falls back
// to deterministic local output otherwise.
type Worker struct {
	store  *store.Store
	queue  *queue.Queue
	client *llm.Client
	logger *slog.Logger
}

// NewWorker builds an analysis worker. The client may be unconfigured; all
// stories then take the stub path.
func NewWorker(st *store.Store, q *queue.Queue, client *llm.Client, logger *slog.Logger) *Worker {
	return &Worker{
		store:  st,
		queue:  q,
		client: client,
		logger: logging.WithComponent(logger, "analysis"),
	}
}

// Register binds the worker to the analyze queue.
func (w *Worker) Register(batchSize int) error {
	return w.queue.Work(config.QueueAnalyzeStory, queue.WorkOptions{BatchSize: batchSize}, w.HandleAnalyze)
}

// HandleAnalyze loads the story content and generates overlay and embedding
// concurrently. Both writes are idempotent upserts keyed by story id.
func (w *Worker) HandleAnalyze(ctx context.Context, job *queue.Job) error {
	var payload ingest.AnalyzePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return w.settle(ctx, job, services.Wrap(services.ErrValidation, "analysis", "analyze", "decode payload", err))
	}

	story, err := w.store.GetStory(ctx, payload.StoryID)
	if err != nil {
		return w.settle(ctx, job, err)
	}
	if story == nil {
		return w.settle(ctx, job,
			services.Wrap(services.ErrNotFound, "analysis", "analyze", fmt.Sprintf("story %s not found", payload.StoryID), nil))
	}
	content, err := w.store.GetContentForStory(ctx, story.ID)
	if err != nil {
		return w.settle(ctx, job, err)
	}
	if content == nil {
		return w.settle(ctx, job,
			services.Wrap(services.ErrNotFound, "analysis", "analyze", fmt.Sprintf("story %s has no content", story.ID), nil))
	}

	text := truncate(content.Body, maxPromptChars)

	var (
		wg        sync.WaitGroup
		overlay   store.Overlay
		embedding store.Embedding
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		overlay = w.generateOverlay(ctx, story, text)
	}()
	go func() {
		defer wg.Done()
		embedding = w.generateEmbedding(ctx, story, text)
	}()
	wg.Wait()

	if err := w.store.UpsertOverlay(ctx, overlay); err != nil {
		return w.settle(ctx, job, err)
	}
	if err := w.store.UpsertEmbedding(ctx, embedding); err != nil {
		return w.settle(ctx, job, err)
	}

	w.logger.Info("story analyzed",
		logging.FieldStoryID, story.ID,
		"chili", overlay.Chili,
		"model", overlay.ModelVersion)
	return w.settle(ctx, job, nil)
}

func (w *Worker) settle(ctx context.Context, job *queue.Job, err error) error {
	if err != nil {
		if failErr := w.queue.Fail(ctx, config.QueueAnalyzeStory, job.ID, err); failErr != nil {
			w.logger.Error("failed to mark job failed", logging.FieldJobID, job.ID, "error", failErr)
		}
		return err
	}
	return w.queue.Complete(ctx, config.QueueAnalyzeStory, job.ID)
}

// generateOverlay tries the model path and falls back to the deterministic
// heuristic on any failure. Scores are clamped on both paths.
func (w *Worker) generateOverlay(ctx context.Context, story *store.Story, text string) store.Overlay {
	if w.client != nil && w.client.Configured() {
		overlay, err := w.modelOverlay(ctx, story, text)
		if err == nil {
			return overlay
		}
		w.logger.Warn("model overlay failed, using stub", logging.FieldStoryID, story.ID, "error", err)
	}

	chili := stubChili(text)
	return store.Overlay{
		StoryID:      story.ID,
		WhyItMatters: stubWhyItMatters(story.Title, chili),
		Chili:        chili,
		Confidence:   0.3,
		Citations:    []string{},
		ModelVersion: StubModelVersion,
		UpdatedAt:    time.Now().UTC(),
	}
}

func (w *Worker) modelOverlay(ctx context.Context, story *store.Story, text string) (store.Overlay, error) {
	raw, err := w.client.CompleteJSON(ctx, overlaySystemPrompt, text)
	if err != nil {
		return store.Overlay{}, err
	}
	var parsed struct {
		WhyItMatters string   `json:"why_it_matters"`
		Chili        int      `json:"chili"`
		Confidence   float64  `json:"confidence"`
		Citations    []string `json:"citations"`
	}
	if err := llm.DecodeModelJSON(raw, &parsed); err != nil {
		return store.Overlay{}, fmt.Errorf("parse overlay payload: %w", err)
	}
	citations := parsed.Citations
	if citations == nil {
		citations = []string{}
	}
	return store.Overlay{
		StoryID:      story.ID,
		WhyItMatters: strings.TrimSpace(parsed.WhyItMatters),
		Chili:        clampChili(parsed.Chili),
		Confidence:   clampConfidence(parsed.Confidence),
		Citations:    citations,
		ModelVersion: w.client.Model(),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// generateEmbedding mirrors generateOverlay: model path when configured,
// hash-derived deterministic vector otherwise.
func (w *Worker) generateEmbedding(ctx context.Context, story *store.Story, text string) store.Embedding {
	if w.client != nil && w.client.Configured() {
		vector, err := w.client.Embed(ctx, text)
		if err == nil {
			return store.Embedding{
				StoryID:   story.ID,
				Dims:      len(vector),
				Vector:    vector,
				Model:     w.client.EmbeddingModel(),
				UpdatedAt: time.Now().UTC(),
			}
		}
		w.logger.Warn("model embedding failed, using stub", logging.FieldStoryID, story.ID, "error", err)
	}

	vector := stubEmbedding(text)
	return store.Embedding{
		StoryID:   story.ID,
		Dims:      len(vector),
		Vector:    vector,
		Model:     StubModelVersion,
		UpdatedAt: time.Now().UTC(),
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

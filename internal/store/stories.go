package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FindStoryByHash returns the story owning a content hash, or nil.
func (s *Store) FindStoryByHash(ctx context.Context, contentHash string) (*Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, title, kind, created_at FROM stories WHERE content_hash = ?`, contentHash)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find story by hash: %w", err)
	}
	return story, nil
}

// GetStory fetches a story by id. Returns nil when absent.
func (s *Store) GetStory(ctx context.Context, id string) (*Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, title, kind, created_at FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return story, nil
}

// ResolveStory returns the story for a content hash, creating it on first
// sight. The unique index on content_hash backstops concurrent resolvers:
// whichever insert loses the race reads the winner back. The returned bool
// is true when this call created the story.
func (s *Store) ResolveStory(ctx context.Context, contentHash, title string, kind ItemKind) (*Story, bool, error) {
	if existing, err := s.FindStoryByHash(ctx, contentHash); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	story := &Story{
		ID:          uuid.NewString(),
		ContentHash: contentHash,
		Title:       title,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stories (id, content_hash, title, kind, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(content_hash) DO NOTHING`,
		story.ID, story.ContentHash, story.Title, string(story.Kind), timestamp(story.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert story: %w", err)
	}

	stored, err := s.FindStoryByHash(ctx, contentHash)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("story for hash %q vanished after insert", contentHash)
	}
	return stored, stored.ID == story.ID, nil
}

// UpsertOverlay writes the analysis overlay for a story. Idempotent: keyed by
// story id, later values win.
func (s *Store) UpsertOverlay(ctx context.Context, overlay Overlay) error {
	citations, err := json.Marshal(overlay.Citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO story_overlays (story_id, why_it_matters, chili, confidence, citations, model_version, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(story_id) DO UPDATE SET
             why_it_matters = excluded.why_it_matters,
             chili = excluded.chili,
             confidence = excluded.confidence,
             citations = excluded.citations,
             model_version = excluded.model_version,
             updated_at = excluded.updated_at`,
		overlay.StoryID, overlay.WhyItMatters, overlay.Chili, overlay.Confidence,
		string(citations), overlay.ModelVersion, timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert overlay: %w", err)
	}
	return nil
}

// GetOverlay fetches the overlay for a story. Returns nil when absent.
func (s *Store) GetOverlay(ctx context.Context, storyID string) (*Overlay, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT story_id, why_it_matters, chili, confidence, citations, model_version, updated_at
         FROM story_overlays WHERE story_id = ?`, storyID)

	var (
		overlay      Overlay
		citationsRaw string
		updatedRaw   string
	)
	err := row.Scan(&overlay.StoryID, &overlay.WhyItMatters, &overlay.Chili,
		&overlay.Confidence, &citationsRaw, &overlay.ModelVersion, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlay: %w", err)
	}
	if citationsRaw != "" {
		if err := json.Unmarshal([]byte(citationsRaw), &overlay.Citations); err != nil {
			return nil, fmt.Errorf("parse citations: %w", err)
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		overlay.UpdatedAt = updated
	}
	return &overlay, nil
}

// UpsertEmbedding writes the embedding vector for a story. Idempotent: keyed
// by story id, later values win.
func (s *Store) UpsertEmbedding(ctx context.Context, embedding Embedding) error {
	vector, err := json.Marshal(embedding.Vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO story_embeddings (story_id, dims, vector, model, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(story_id) DO UPDATE SET
             dims = excluded.dims,
             vector = excluded.vector,
             model = excluded.model,
             updated_at = excluded.updated_at`,
		embedding.StoryID, embedding.Dims, string(vector), embedding.Model, timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// GetEmbedding fetches the embedding for a story. Returns nil when absent.
func (s *Store) GetEmbedding(ctx context.Context, storyID string) (*Embedding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT story_id, dims, vector, model, updated_at FROM story_embeddings WHERE story_id = ?`, storyID)

	var (
		embedding  Embedding
		vectorRaw  string
		updatedRaw string
	)
	err := row.Scan(&embedding.StoryID, &embedding.Dims, &vectorRaw, &embedding.Model, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(vectorRaw), &embedding.Vector); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		embedding.UpdatedAt = updated
	}
	return &embedding, nil
}

// CountStories returns the total number of stories.
func (s *Store) CountStories(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM stories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stories: %w", err)
	}
	return count, nil
}

func scanStory(scanner interface{ Scan(dest ...any) error }) (*Story, error) {
	var (
		story      Story
		kind       string
		createdRaw string
	)
	if err := scanner.Scan(&story.ID, &story.ContentHash, &story.Title, &kind, &createdRaw); err != nil {
		return nil, err
	}
	story.Kind = ItemKind(strings.TrimSpace(kind))
	if created, err := parseTimeString(createdRaw); err == nil {
		story.CreatedAt = created
	}
	return &story, nil
}

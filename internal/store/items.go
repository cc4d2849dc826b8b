package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const rawItemColumns = "id, source_id, url, title, kind, external_id, discovered_at, extracted_at"

// InsertRawItem records a discovered item. Discovery runs on every pull, so
// an item already known by URL is not an error; the existing row is returned
// with inserted=false.
func (s *Store) InsertRawItem(ctx context.Context, sourceID, url, title string, kind ItemKind, externalID string) (*RawItem, bool, error) {
	existing, err := s.FindRawItemByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	item := &RawItem{
		ID:           uuid.NewString(),
		SourceID:     sourceID,
		URL:          url,
		Title:        title,
		Kind:         kind,
		ExternalID:   externalID,
		DiscoveredAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO raw_items (id, source_id, url, title, kind, external_id, discovered_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(url) DO NOTHING`,
		item.ID, item.SourceID, item.URL, item.Title, string(item.Kind),
		nullableString(item.ExternalID), timestamp(item.DiscoveredAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert raw item: %w", err)
	}

	// A concurrent pull may have won the conflict; read back by URL.
	stored, err := s.FindRawItemByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("raw item %q vanished after insert", url)
	}
	return stored, stored.ID == item.ID, nil
}

// GetRawItem fetches one raw item by id. Returns nil when absent.
func (s *Store) GetRawItem(ctx context.Context, id string) (*RawItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawItemColumns+` FROM raw_items WHERE id = ?`, id)
	item, err := scanRawItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get raw item: %w", err)
	}
	return item, nil
}

// FindRawItemByURL fetches one raw item by URL. Returns nil when absent.
func (s *Store) FindRawItemByURL(ctx context.Context, url string) (*RawItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawItemColumns+` FROM raw_items WHERE url = ?`, url)
	item, err := scanRawItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find raw item: %w", err)
	}
	return item, nil
}

// GetRawItems loads a batch of raw items by id, preserving request order for
// the ids that exist.
func (s *Store) GetRawItems(ctx context.Context, ids []string) ([]*RawItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rawItemColumns+` FROM raw_items WHERE id IN (`+makePlaceholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get raw items: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*RawItem, len(ids))
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]*RawItem, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// MarkExtracted stamps a raw item as successfully extracted.
func (s *Store) MarkExtracted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE raw_items SET extracted_at = ? WHERE id = ?`, timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return nil
}

// InsertContent records normalized extracted text for a raw item, bound to
// its deduplicated story.
func (s *Store) InsertContent(ctx context.Context, rawItemID, storyID, contentHash, language, sourceURL, body string) (*Content, error) {
	content := &Content{
		ID:          uuid.NewString(),
		RawItemID:   rawItemID,
		StoryID:     storyID,
		ContentHash: contentHash,
		Language:    language,
		SourceURL:   sourceURL,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO content (id, raw_item_id, story_id, content_hash, language, source_url, body, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		content.ID, content.RawItemID, content.StoryID, content.ContentHash,
		nullableString(content.Language), content.SourceURL, content.Body, timestamp(content.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	return content, nil
}

// GetContentForStory returns the most recent content row for a story.
func (s *Store) GetContentForStory(ctx context.Context, storyID string) (*Content, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, raw_item_id, story_id, content_hash, language, source_url, body, created_at
         FROM content WHERE story_id = ? ORDER BY created_at DESC LIMIT 1`, storyID)
	content, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content for story: %w", err)
	}
	return content, nil
}

func scanRawItem(scanner interface{ Scan(dest ...any) error }) (*RawItem, error) {
	var (
		item          RawItem
		kind          string
		externalID    sql.NullString
		discoveredRaw string
		extractedRaw  sql.NullString
	)
	if err := scanner.Scan(&item.ID, &item.SourceID, &item.URL, &item.Title, &kind, &externalID, &discoveredRaw, &extractedRaw); err != nil {
		return nil, err
	}
	item.Kind = ItemKind(kind)
	item.ExternalID = externalID.String
	if discovered, err := parseTimeString(discoveredRaw); err == nil {
		item.DiscoveredAt = discovered
	}
	if extractedRaw.Valid {
		if extracted, err := parseTimeString(extractedRaw.String); err == nil {
			item.ExtractedAt = &extracted
		}
	}
	return &item, nil
}

func scanContent(scanner interface{ Scan(dest ...any) error }) (*Content, error) {
	var (
		content    Content
		language   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&content.ID, &content.RawItemID, &content.StoryID, &content.ContentHash,
		&language, &content.SourceURL, &content.Body, &createdRaw); err != nil {
		return nil, err
	}
	content.Language = language.String
	if created, err := parseTimeString(createdRaw); err == nil {
		content.CreatedAt = created
	}
	return &content, nil
}

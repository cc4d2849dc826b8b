package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddSource registers a new configured source.
func (s *Store) AddSource(ctx context.Context, kind SourceKind, name, spec string) (*Source, error) {
	if !KnownSourceKind(kind) {
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
	now := time.Now().UTC()
	source := &Source{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sources (id, kind, name, spec, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		source.ID, string(source.Kind), source.Name, source.Spec,
		timestamp(source.CreatedAt), timestamp(source.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	return source, nil
}

// EnsureAdhocSource returns the synthetic source that owns manually
// ingested URLs, creating it on first use. It is never pulled.
func (s *Store) EnsureAdhocSource(ctx context.Context) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, spec, created_at, updated_at FROM sources WHERE kind = ? LIMIT 1`,
		string(SourceAdhoc))
	source, err := scanSource(row)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find adhoc source: %w", err)
	}

	now := time.Now().UTC()
	source = &Source{
		ID:        uuid.NewString(),
		Kind:      SourceAdhoc,
		Name:      "manual",
		Spec:      "",
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sources (id, kind, name, spec, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		source.ID, string(source.Kind), source.Name, source.Spec,
		timestamp(source.CreatedAt), timestamp(source.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert adhoc source: %w", err)
	}
	return source, nil
}

// GetSource fetches a source by id. Returns nil when absent.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, spec, created_at, updated_at FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return source, nil
}

// ListSources returns sources, optionally filtered to kinds.
func (s *Store) ListSources(ctx context.Context, kinds ...SourceKind) ([]*Source, error) {
	query := `SELECT id, kind, name, spec, created_at, updated_at FROM sources`
	var args []any
	if len(kinds) > 0 {
		query += ` WHERE kind IN (` + makePlaceholders(len(kinds)) + `)`
		for _, kind := range kinds {
			args = append(args, string(kind))
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func scanSource(scanner interface{ Scan(dest ...any) error }) (*Source, error) {
	var (
		source     Source
		kind       string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&source.ID, &kind, &source.Name, &source.Spec, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	source.Kind = SourceKind(kind)
	if created, err := parseTimeString(createdRaw); err == nil {
		source.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		source.UpdatedAt = updated
	}
	return &source, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

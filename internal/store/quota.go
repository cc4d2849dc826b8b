package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpdateQuota records per-platform API usage after an ingest pass.
func (s *Store) UpdateQuota(ctx context.Context, quota Quota) error {
	var resetsAt any
	if quota.ResetsAt != nil {
		resetsAt = timestamp(*quota.ResetsAt)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO platform_quota (platform, used, remaining, resets_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(platform) DO UPDATE SET
             used = excluded.used,
             remaining = excluded.remaining,
             resets_at = excluded.resets_at,
             updated_at = excluded.updated_at`,
		quota.Platform, quota.Used, quota.Remaining, resetsAt, timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("update quota: %w", err)
	}
	return nil
}

// GetQuota returns quota state for a platform, or nil when never recorded.
func (s *Store) GetQuota(ctx context.Context, platform string) (*Quota, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT platform, used, remaining, resets_at, updated_at FROM platform_quota WHERE platform = ?`, platform)

	var (
		quota      Quota
		resetsRaw  sql.NullString
		updatedRaw string
	)
	err := row.Scan(&quota.Platform, &quota.Used, &quota.Remaining, &resetsRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	if resetsRaw.Valid {
		if resets, err := parseTimeString(resetsRaw.String); err == nil {
			quota.ResetsAt = &resets
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		quota.UpdatedAt = updated
	}
	return &quota, nil
}

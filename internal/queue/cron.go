package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"scoville/internal/logging"
)

// runScheduler fires due cron schedules. A pull that fails downstream is
// re-driven only by its next tick; the scheduler itself never retries.
func (q *Queue) runScheduler(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := q.fireDueSchedules(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("cron scheduler pass failed", logging.Error(err))
		}
	}
}

func (q *Queue) fireDueSchedules(ctx context.Context) error {
	now := time.Now()
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, queue, cron_expr, timezone, payload, next_run
         FROM queue_schedules WHERE next_run <= ?`, timestamp(now))
	if err != nil {
		return fmt.Errorf("select due schedules: %w", err)
	}

	type due struct {
		id       string
		queue    string
		cronExpr string
		timezone string
		payload  string
	}
	var fired []due
	for rows.Next() {
		var d due
		var nextRaw string
		if err := rows.Scan(&d.id, &d.queue, &d.cronExpr, &d.timezone, &d.payload, &nextRaw); err != nil {
			rows.Close()
			return err
		}
		fired = append(fired, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, d := range fired {
		location, err := time.LoadLocation(d.timezone)
		if err != nil {
			location = q.location
		}
		spec, err := cron.ParseStandard(d.cronExpr)
		if err != nil {
			q.logger.Error("unparseable cron schedule; disabling",
				logging.String(logging.FieldQueue, d.queue),
				logging.String("cron", d.cronExpr),
				logging.Error(err))
			q.deleteSchedule(ctx, d.id)
			continue
		}

		// Advance next_run first so a crash mid-send skips rather than
		// double-fires; the next tick re-enumerates anyway.
		next := spec.Next(now.In(location))
		if err := q.advanceSchedule(ctx, d.id, next); err != nil {
			q.logger.Warn("advance schedule failed", logging.Error(err))
			continue
		}

		var payload any
		if err := unmarshalPayload(d.payload, &payload); err != nil {
			q.logger.Error("schedule payload corrupt",
				logging.String(logging.FieldQueue, d.queue),
				logging.Error(err))
			continue
		}
		if _, err := q.Send(ctx, d.queue, payload); err != nil {
			q.logger.Error("scheduled send failed",
				logging.String(logging.FieldQueue, d.queue),
				logging.Error(err))
			continue
		}
		q.logger.Debug("schedule fired",
			logging.String(logging.FieldQueue, d.queue),
			logging.String("cron", d.cronExpr))
	}
	return nil
}

func (q *Queue) advanceSchedule(ctx context.Context, id string, next time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_schedules SET next_run = ? WHERE id = ?`, timestamp(next), id)
	return err
}

func (q *Queue) deleteSchedule(ctx context.Context, id string) {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_schedules WHERE id = ?`, id); err != nil {
		q.logger.Warn("delete schedule failed", logging.Error(err))
	}
}

// Schedules lists registered schedules for diagnostics.
func (q *Queue) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, queue, cron_expr, timezone, payload, next_run, created_at
         FROM queue_schedules ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var (
			schedule   Schedule
			payload    string
			nextRaw    string
			createdRaw string
		)
		if err := rows.Scan(&schedule.ID, &schedule.Queue, &schedule.CronExpr,
			&schedule.Timezone, &payload, &nextRaw, &createdRaw); err != nil {
			return nil, err
		}
		schedule.Payload = []byte(payload)
		if next, err := parseTimeString(nextRaw); err == nil {
			schedule.NextRun = next
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			schedule.CreatedAt = created
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func unmarshalPayload(raw string, target *any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

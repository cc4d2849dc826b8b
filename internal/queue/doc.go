// Package queue implements the durable, database-backed job queue that
// coordinates every pipeline stage: named queues, cron schedules, batch
// workers with heartbeats, and stale-job reclaim for at-least-once delivery.
// Handlers must be idempotent or tolerate duplicate execution.
package queue

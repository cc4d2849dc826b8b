// Package ingest contains the durable-queue payload shapes and handlers
// that drive the ingestion pipeline: cron-driven source pulls, article and
// video extraction, ad-hoc URL submission, and settled-job cleanup.
//
// Extraction is idempotent under at-least-once delivery: items carry an
// extraction marker, and content hashing collapses duplicate text onto a
// single story.
package ingest

// Package store persists the content pipeline's entities in SQLite: sources,
// raw items, deduplicated stories with their content, analysis overlays and
// embeddings, and platform quota bookkeeping. The durable job queue shares
// the same database file but owns its own tables.
package store

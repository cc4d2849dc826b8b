package ingest

import "scoville/internal/store"

// Payload shapes are stable: they are persisted in the durable queue and
// must survive process restarts, so fields are only ever added.

// PullPayload fans a cron tick out to per-source jobs. Source is the pull
// group, "rss" or "video".
type PullPayload struct {
	Source string `json:"source"`
}

const (
	PullGroupRSS   = "rss"
	PullGroupVideo = "video"
)

// PullSourcePayload enumerates one configured source.
type PullSourcePayload struct {
	SourceID string           `json:"sourceId"`
	Kind     store.SourceKind `json:"kind"`
}

// ArticlePayload extracts a batch of article raw items.
type ArticlePayload struct {
	RawItemIDs []string `json:"rawItemIds"`
}

// VideoPayload extracts one video raw item. The video id scopes scratch
// space and transcription jobs.
type VideoPayload struct {
	RawItemIDs []string         `json:"rawItemIds"`
	VideoID    string           `json:"videoId"`
	SourceKind store.SourceKind `json:"sourceKind"`
}

// AnalyzePayload hands a deduplicated story to the analysis worker.
type AnalyzePayload struct {
	StoryID string `json:"storyId"`
}

// IngestURLPayload ingests one manually submitted URL.
type IngestURLPayload struct {
	URL string `json:"url"`
}

// CleanupPayload prunes settled durable jobs older than MaxAgeHours.
type CleanupPayload struct {
	MaxAgeHours int `json:"maxAgeHours"`
}

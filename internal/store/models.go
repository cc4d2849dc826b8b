package store

import "time"

// SourceKind identifies how a configured source is enumerated.
type SourceKind string

const (
	SourceRSS            SourceKind = "rss"
	SourceYouTubeChannel SourceKind = "youtube_channel"
	SourceYouTubeSearch  SourceKind = "youtube_search"

	// SourceAdhoc owns manually ingested URLs and is never pulled.
	SourceAdhoc SourceKind = "adhoc"
)

// KnownSourceKind reports whether kind is one the pipeline can pull.
func KnownSourceKind(kind SourceKind) bool {
	switch kind {
	case SourceRSS, SourceYouTubeChannel, SourceYouTubeSearch:
		return true
	default:
		return false
	}
}

// VideoKind reports whether the kind is enumerated through the video
// platform rather than a feed.
func (k SourceKind) VideoKind() bool {
	return k == SourceYouTubeChannel || k == SourceYouTubeSearch
}

// Source is a configured origin: a feed URL, a channel id, or a search spec.
type Source struct {
	ID        string
	Kind      SourceKind
	Name      string
	Spec      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemKind distinguishes article and video raw items.
type ItemKind string

const (
	ItemArticle ItemKind = "article"
	ItemVideo   ItemKind = "video"
)

// RawItem is one discovered unit before extraction. Immutable after
// discovery except for the extraction marker.
type RawItem struct {
	ID           string
	SourceID     string
	URL          string
	Title        string
	Kind         ItemKind
	ExternalID   string
	DiscoveredAt time.Time
	ExtractedAt  *time.Time
}

// Content is the normalized extracted text for a RawItem. The hash is the
// deduplication key that binds it to a Story.
type Content struct {
	ID          string
	RawItemID   string
	StoryID     string
	ContentHash string
	Language    string
	SourceURL   string
	Body        string
	CreatedAt   time.Time
}

// Story is the deduplicated unit of meaning. All Content rows sharing a
// content_hash resolve to the same Story id.
type Story struct {
	ID          string
	ContentHash string
	Title       string
	Kind        ItemKind
	CreatedAt   time.Time
}

// Overlay is the derived analysis attached to a Story.
type Overlay struct {
	StoryID      string
	WhyItMatters string
	Chili        int
	Confidence   float64
	Citations    []string
	ModelVersion string
	UpdatedAt    time.Time
}

// Embedding is a fixed-dimension vector representation of a Story.
type Embedding struct {
	StoryID   string
	Dims      int
	Vector    []float64
	Model     string
	UpdatedAt time.Time
}

// Quota tracks per-platform API usage. Advisory: consumers treat a missing
// row as "unknown", never as "blocked".
type Quota struct {
	Platform  string
	Used      int
	Remaining int
	ResetsAt  *time.Time
	UpdatedAt time.Time
}

package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scoville/internal/logging"
	"scoville/internal/services"
	"scoville/internal/services/ytdlp"
	"scoville/internal/store"
)

// Candidate is one item discovered while pulling a source, before dedup.
type Candidate struct {
	URL         string
	Title       string
	ExternalID  string
	Kind        store.ItemKind
	PublishedAt *time.Time
}

// Puller enumerates candidate items for each source kind.
type Puller struct {
	rss    *RSSFetcher
	yt     *YouTubeClient
	ytdlp  *ytdlp.Client
	store  *store.Store
	logger *slog.Logger
}

// NewPuller wires the per-kind fetchers together. The yt-dlp client is the
// fallback when the Data API is unavailable or over quota.
func NewPuller(rss *RSSFetcher, yt *YouTubeClient, ytdlpClient *ytdlp.Client, st *store.Store, logger *slog.Logger) *Puller {
	return &Puller{
		rss:    rss,
		yt:     yt,
		ytdlp:  ytdlpClient,
		store:  st,
		logger: logging.WithComponent(logger, "sources"),
	}
}

// Pull enumerates up to maxItems candidates for the source. Unknown source
// kinds are rejected rather than silently skipped.
func (p *Puller) Pull(ctx context.Context, src *store.Source, maxItems int) ([]Candidate, error) {
	if src == nil {
		return nil, services.Wrap(services.ErrValidation, "sources", "pull", "source is required", nil)
	}
	switch src.Kind {
	case store.SourceRSS:
		return p.rss.Fetch(ctx, src.Spec, maxItems)
	case store.SourceYouTubeChannel:
		return p.pullVideos(ctx, src, maxItems, false)
	case store.SourceYouTubeSearch:
		return p.pullVideos(ctx, src, maxItems, true)
	default:
		return nil, services.Wrap(services.ErrValidation, "sources", "pull",
			fmt.Sprintf("unknown source kind %q for source %s", src.Kind, src.ID), nil)
	}
}

// pullVideos prefers the Data API and falls back to yt-dlp enumeration when
// the API is not configured or reports quota exhaustion.
func (p *Puller) pullVideos(ctx context.Context, src *store.Source, maxItems int, search bool) ([]Candidate, error) {
	if p.yt != nil && p.yt.Configured() {
		var (
			candidates []Candidate
			err        error
		)
		if search {
			candidates, err = p.yt.Search(ctx, src.Spec, maxItems)
		} else {
			candidates, err = p.yt.ChannelUploads(ctx, src.Spec, maxItems)
		}
		if err == nil {
			p.recordQuota(ctx)
			return candidates, nil
		}
		if !QuotaExceeded(err) {
			return nil, err
		}
		p.logger.Warn("youtube api quota exhausted, falling back to yt-dlp",
			logging.FieldSourceID, src.ID, "error", err)
	}

	if p.ytdlp == nil {
		return nil, services.Wrap(services.ErrConfiguration, "sources", "pull",
			"no youtube api key and no yt-dlp fallback configured", nil)
	}

	var (
		refs []ytdlp.VideoRef
		err  error
	)
	if search {
		refs, err = p.ytdlp.EnumerateSearch(ctx, src.Spec, maxItems)
	} else {
		refs, err = p.ytdlp.EnumerateChannel(ctx, src.Spec, maxItems)
	}
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(refs))
	for _, ref := range refs {
		candidates = append(candidates, Candidate{
			URL:        ref.URL,
			Title:      ref.Title,
			ExternalID: ref.ID,
			Kind:       store.ItemVideo,
		})
	}
	return candidates, nil
}

func (p *Puller) recordQuota(ctx context.Context) {
	if p.store == nil || p.yt == nil {
		return
	}
	if err := p.store.UpdateQuota(ctx, p.yt.QuotaSnapshot()); err != nil {
		p.logger.Warn("failed to record youtube quota usage", "error", err)
	}
}

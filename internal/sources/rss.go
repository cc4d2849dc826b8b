package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"scoville/internal/logging"
	"scoville/internal/services"
	"scoville/internal/store"
)

// RSSFetcher parses RSS and Atom feeds into candidates.
type RSSFetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
	logger  *slog.Logger
}

// NewRSSFetcher builds a fetcher with the given per-feed timeout.
func NewRSSFetcher(timeout time.Duration, logger *slog.Logger) *RSSFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RSSFetcher{
		parser:  gofeed.NewParser(),
		timeout: timeout,
		logger:  logging.WithComponent(logger, "rss"),
	}
}

// Fetch downloads and parses the feed, returning newest-first candidates
// capped at maxItems. Items without a link are skipped.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string, maxItems int) ([]Candidate, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, services.Wrap(services.ErrValidation, "rss", "fetch", "feed url is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "rss", "fetch",
			fmt.Sprintf("parse feed %s", feedURL), err)
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			f.logger.Debug("skipping feed item without link", logging.FieldURL, feedURL, "title", item.Title)
			continue
		}
		candidate := Candidate{
			URL:        link,
			Title:      strings.TrimSpace(item.Title),
			ExternalID: strings.TrimSpace(item.GUID),
			Kind:       store.ItemArticle,
		}
		if item.PublishedParsed != nil {
			published := item.PublishedParsed.UTC()
			candidate.PublishedAt = &published
		}
		candidates = append(candidates, candidate)
		if maxItems > 0 && len(candidates) >= maxItems {
			break
		}
	}
	return candidates, nil
}

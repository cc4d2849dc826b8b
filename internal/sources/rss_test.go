package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scoville/internal/sources"
	"scoville/internal/store"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example Wire</title>
<item>
  <title>First story</title>
  <link>https://example.com/first</link>
  <guid>wire-1</guid>
  <pubDate>Tue, 25 Aug 2026 08:00:00 GMT</pubDate>
</item>
<item>
  <title>No link, should be skipped</title>
  <guid>wire-2</guid>
</item>
<item>
  <title>Second story</title>
  <link>https://example.com/second</link>
  <guid>wire-3</guid>
</item>
<item>
  <title>Third story</title>
  <link>https://example.com/third</link>
  <guid>wire-4</guid>
</item>
</channel>
</rss>`

func TestFetchParsesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer server.Close()

	fetcher := sources.NewRSSFetcher(5*time.Second, nil)
	candidates, err := fetcher.Fetch(context.Background(), server.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(candidates) != 3 {
		t.Fatalf("candidates = %d, want 3 (linkless item skipped)", len(candidates))
	}
	first := candidates[0]
	if first.URL != "https://example.com/first" || first.Title != "First story" || first.ExternalID != "wire-1" {
		t.Errorf("first candidate = %+v", first)
	}
	if first.Kind != store.ItemArticle {
		t.Errorf("kind = %s", first.Kind)
	}
	if first.PublishedAt == nil || first.PublishedAt.Day() != 25 {
		t.Errorf("published_at = %v", first.PublishedAt)
	}
	if candidates[1].PublishedAt != nil {
		t.Errorf("undated item has published_at = %v", candidates[1].PublishedAt)
	}
}

func TestFetchCapsAtMaxItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer server.Close()

	fetcher := sources.NewRSSFetcher(5*time.Second, nil)
	candidates, err := fetcher.Fetch(context.Background(), server.URL, 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	fetcher := sources.NewRSSFetcher(time.Second, nil)
	if _, err := fetcher.Fetch(context.Background(), "  ", 0); err == nil {
		t.Fatal("expected error for empty feed url")
	}
}

package store_test

import (
	"context"
	"testing"
	"time"

	"scoville/internal/store"
	"scoville/internal/testsupport"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func addSource(t *testing.T, st *store.Store, kind store.SourceKind) *store.Source {
	t.Helper()
	source, err := st.AddSource(context.Background(), kind, "test source", "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	return source
}

func TestAddSourceRejectsUnknownKind(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.AddSource(context.Background(), "carrier-pigeon", "x", "y"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestListSourcesFiltersByKind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	addSource(t, st, store.SourceRSS)
	addSource(t, st, store.SourceYouTubeChannel)

	all, err := st.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all sources = %d", len(all))
	}

	rss, err := st.ListSources(ctx, store.SourceRSS)
	if err != nil {
		t.Fatalf("ListSources(rss): %v", err)
	}
	if len(rss) != 1 || rss[0].Kind != store.SourceRSS {
		t.Fatalf("rss sources = %+v", rss)
	}
}

func TestEnsureAdhocSourceIsSingleton(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.EnsureAdhocSource(ctx)
	if err != nil {
		t.Fatalf("EnsureAdhocSource: %v", err)
	}
	second, err := st.EnsureAdhocSource(ctx)
	if err != nil {
		t.Fatalf("EnsureAdhocSource again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("adhoc source duplicated: %s vs %s", first.ID, second.ID)
	}
	if first.Kind != store.SourceAdhoc {
		t.Errorf("kind = %s", first.Kind)
	}
}

func TestInsertRawItemDeduplicatesByURL(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	source := addSource(t, st, store.SourceRSS)

	item, inserted, err := st.InsertRawItem(ctx, source.ID, "https://example.com/a", "A", store.ItemArticle, "")
	if err != nil {
		t.Fatalf("InsertRawItem: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported as duplicate")
	}

	again, inserted, err := st.InsertRawItem(ctx, source.ID, "https://example.com/a", "A again", store.ItemArticle, "")
	if err != nil {
		t.Fatalf("InsertRawItem repeat: %v", err)
	}
	if inserted {
		t.Fatal("repeat insert reported as new")
	}
	if again.ID != item.ID {
		t.Fatalf("duplicate URL produced a second row: %s vs %s", again.ID, item.ID)
	}
	if again.Title != "A" {
		t.Errorf("title rewritten on duplicate: %q", again.Title)
	}
}

func TestGetRawItemsPreservesRequestOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	source := addSource(t, st, store.SourceRSS)

	var ids []string
	for _, url := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		item, _, err := st.InsertRawItem(ctx, source.ID, url, url, store.ItemArticle, "")
		if err != nil {
			t.Fatalf("InsertRawItem: %v", err)
		}
		ids = append(ids, item.ID)
	}

	// Request in reverse, with one unknown id mixed in.
	request := []string{ids[2], "missing", ids[0]}
	items, err := st.GetRawItems(ctx, request)
	if err != nil {
		t.Fatalf("GetRawItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if items[0].ID != ids[2] || items[1].ID != ids[0] {
		t.Fatalf("order not preserved: %s, %s", items[0].ID, items[1].ID)
	}
}

func TestMarkExtracted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	source := addSource(t, st, store.SourceRSS)

	item, _, err := st.InsertRawItem(ctx, source.ID, "https://example.com/a", "A", store.ItemArticle, "")
	if err != nil {
		t.Fatalf("InsertRawItem: %v", err)
	}
	if item.ExtractedAt != nil {
		t.Fatal("new item already marked extracted")
	}

	if err := st.MarkExtracted(ctx, item.ID); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}
	stored, err := st.GetRawItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetRawItem: %v", err)
	}
	if stored.ExtractedAt == nil {
		t.Fatal("extracted_at not set")
	}
}

func TestResolveStoryDeduplicatesByHash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, created, err := st.ResolveStory(ctx, "hash-1", "Original title", store.ItemArticle)
	if err != nil {
		t.Fatalf("ResolveStory: %v", err)
	}
	if !created {
		t.Fatal("first resolve did not create")
	}

	// Same text discovered through a different item resolves to the same
	// story and must not create a second row.
	second, created, err := st.ResolveStory(ctx, "hash-1", "Syndicated title", store.ItemArticle)
	if err != nil {
		t.Fatalf("ResolveStory repeat: %v", err)
	}
	if created {
		t.Fatal("repeat resolve created a new story")
	}
	if second.ID != first.ID {
		t.Fatalf("same hash produced two stories: %s vs %s", first.ID, second.ID)
	}
	if second.Title != "Original title" {
		t.Errorf("title rewritten on repeat: %q", second.Title)
	}

	count, err := st.CountStories(ctx)
	if err != nil {
		t.Fatalf("CountStories: %v", err)
	}
	if count != 1 {
		t.Fatalf("stories = %d, want 1", count)
	}

	other, created, err := st.ResolveStory(ctx, "hash-2", "Different text", store.ItemVideo)
	if err != nil {
		t.Fatalf("ResolveStory new hash: %v", err)
	}
	if !created || other.ID == first.ID {
		t.Fatalf("distinct hash did not create: created=%v id=%s", created, other.ID)
	}
}

func TestInsertContentAndReadBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	source := addSource(t, st, store.SourceRSS)

	item, _, err := st.InsertRawItem(ctx, source.ID, "https://example.com/a", "A", store.ItemArticle, "")
	if err != nil {
		t.Fatalf("InsertRawItem: %v", err)
	}
	story, _, err := st.ResolveStory(ctx, "hash-1", "A", store.ItemArticle)
	if err != nil {
		t.Fatalf("ResolveStory: %v", err)
	}

	if _, err := st.InsertContent(ctx, item.ID, story.ID, "hash-1", "en", item.URL, "body text"); err != nil {
		t.Fatalf("InsertContent: %v", err)
	}

	content, err := st.GetContentForStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetContentForStory: %v", err)
	}
	if content == nil {
		t.Fatal("content missing")
	}
	if content.Body != "body text" || content.Language != "en" || content.RawItemID != item.ID {
		t.Fatalf("content = %+v", content)
	}
}

func TestOverlayUpsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	story, _, err := st.ResolveStory(ctx, "hash-1", "A", store.ItemArticle)
	if err != nil {
		t.Fatalf("ResolveStory: %v", err)
	}

	write := func(chili int, version string) {
		t.Helper()
		err := st.UpsertOverlay(ctx, store.Overlay{
			StoryID:      story.ID,
			WhyItMatters: "matters",
			Chili:        chili,
			Confidence:   0.8,
			Citations:    []string{"https://example.com/a"},
			ModelVersion: version,
		})
		if err != nil {
			t.Fatalf("UpsertOverlay: %v", err)
		}
	}
	write(2, "v1")
	write(4, "v2")

	overlay, err := st.GetOverlay(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetOverlay: %v", err)
	}
	if overlay.Chili != 4 || overlay.ModelVersion != "v2" {
		t.Fatalf("later write did not win: %+v", overlay)
	}
	if len(overlay.Citations) != 1 {
		t.Fatalf("citations = %v", overlay.Citations)
	}
}

func TestEmbeddingUpsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	story, _, err := st.ResolveStory(ctx, "hash-1", "A", store.ItemArticle)
	if err != nil {
		t.Fatalf("ResolveStory: %v", err)
	}

	for _, vector := range [][]float64{{0.1, 0.2}, {0.3, 0.4}} {
		err := st.UpsertEmbedding(ctx, store.Embedding{
			StoryID: story.ID,
			Dims:    len(vector),
			Vector:  vector,
			Model:   "embed-v1",
		})
		if err != nil {
			t.Fatalf("UpsertEmbedding: %v", err)
		}
	}

	embedding, err := st.GetEmbedding(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if embedding.Dims != 2 || embedding.Vector[0] != 0.3 {
		t.Fatalf("later write did not win: %+v", embedding)
	}
}

func TestQuotaUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if quota, err := st.GetQuota(ctx, "youtube"); err != nil || quota != nil {
		t.Fatalf("fresh quota = %+v, err = %v", quota, err)
	}

	resets := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	for _, used := range []int{100, 300} {
		err := st.UpdateQuota(ctx, store.Quota{
			Platform:  "youtube",
			Used:      used,
			Remaining: 10000 - used,
			ResetsAt:  &resets,
		})
		if err != nil {
			t.Fatalf("UpdateQuota: %v", err)
		}
	}

	quota, err := st.GetQuota(ctx, "youtube")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if quota.Used != 300 || quota.Remaining != 9700 {
		t.Fatalf("quota = %+v", quota)
	}
	if quota.ResetsAt == nil || !quota.ResetsAt.Equal(resets) {
		t.Fatalf("resets_at = %v, want %v", quota.ResetsAt, resets)
	}
}

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"scoville/internal/services"
	"scoville/internal/services/ytdlp"
	"scoville/internal/store"
	"scoville/internal/testsupport"
)

type fakeRunner struct {
	execution services.Execution
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (services.Execution, error) {
	return f.execution, nil
}

func TestPullRejectsUnknownKind(t *testing.T) {
	puller := NewPuller(nil, nil, nil, nil, nil)
	src := &store.Source{ID: "s1", Kind: "telegraph"}
	if _, err := puller.Pull(context.Background(), src, 10); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPullVideosRecordsQuotaAfterAPIPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchJSON))
	}))
	t.Cleanup(server.Close)
	yt := NewYouTubeClient("key", 25, nil)
	yt.baseURL = server.URL

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	puller := NewPuller(nil, yt, nil, st, nil)

	src := &store.Source{ID: "s1", Kind: store.SourceYouTubeSearch, Spec: "city council"}
	candidates, err := puller.Pull(context.Background(), src, 10)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d", len(candidates))
	}

	quota, err := st.GetQuota(context.Background(), "youtube")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if quota == nil || quota.Used != searchQuotaCost {
		t.Fatalf("quota = %+v", quota)
	}
}

func TestPullVideosFallsBackWhenQuotaExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(quotaJSON))
	}))
	t.Cleanup(server.Close)
	yt := NewYouTubeClient("key", 25, nil)
	yt.baseURL = server.URL

	fallback := ytdlp.NewClient(ytdlp.Config{}, &fakeRunner{execution: services.Execution{
		Stdout: `{"id": "fb-1", "title": "Fallback video"}`,
	}}, nil)

	puller := NewPuller(nil, yt, fallback, nil, nil)
	src := &store.Source{ID: "s1", Kind: store.SourceYouTubeChannel, Spec: "https://www.youtube.com/@channel"}

	candidates, err := puller.Pull(context.Background(), src, 10)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ExternalID != "fb-1" {
		t.Fatalf("candidates = %+v", candidates)
	}
	if candidates[0].Kind != store.ItemVideo {
		t.Errorf("kind = %s", candidates[0].Kind)
	}
}

func TestPullVideosWithoutAPIUsesFallbackDirectly(t *testing.T) {
	fallback := ytdlp.NewClient(ytdlp.Config{}, &fakeRunner{execution: services.Execution{
		Stdout: `{"id": "fb-2", "title": "Direct fallback"}`,
	}}, nil)

	puller := NewPuller(nil, NewYouTubeClient("", 25, nil), fallback, nil, nil)
	src := &store.Source{ID: "s1", Kind: store.SourceYouTubeSearch, Spec: "anything"}

	candidates, err := puller.Pull(context.Background(), src, 5)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ExternalID != "fb-2" {
		t.Fatalf("candidates = %+v", candidates)
	}
}

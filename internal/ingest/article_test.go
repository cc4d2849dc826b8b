package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scoville/internal/ingest"
	"scoville/internal/services"
)

const articleHTML = `<!DOCTYPE html>
<html lang="en">
<head><title>Reservoir levels hit a ten year low</title></head>
<body>
<nav><a href="/">Home</a> <a href="/weather">Weather</a></nav>
<article>
<h1>Reservoir levels hit a ten year low</h1>
<p>Water managers said on Tuesday that the regional reservoir system has fallen
to its lowest level in a decade, prompting the district to schedule an
emergency session on outdoor watering restrictions for next week.</p>
<p>The shortfall follows two consecutive winters of below average snowpack in
the upstream basin. Officials said the current storage level covers roughly
fourteen months of demand at present consumption rates.</p>
<p>Neighboring districts that share the intertie agreement have been asked to
prepare contingency transfers, though none have been requested yet.</p>
</article>
<footer>Copyright notice and unrelated boilerplate text.</footer>
</body>
</html>`

func TestExtractReadableArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	extractor := ingest.NewArticleExtractor(5*time.Second, nil)
	extracted, err := extractor.Extract(context.Background(), server.URL+"/news/reservoir")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !strings.Contains(extracted.Title, "Reservoir levels") {
		t.Errorf("title = %q", extracted.Title)
	}
	if !strings.Contains(extracted.Text, "lowest level in a decade") {
		t.Errorf("main text missing:\n%s", extracted.Text)
	}
	if strings.Contains(extracted.Text, "  ") || strings.Contains(extracted.Text, "\n") {
		t.Error("text not whitespace-normalized")
	}
	if extracted.Language != "en" {
		t.Errorf("language = %q", extracted.Language)
	}
}

func TestExtractDistinguishesClientAndServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			http.Error(w, "gone", http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	extractor := ingest.NewArticleExtractor(5*time.Second, nil)

	_, err := extractor.Extract(context.Background(), server.URL+"/gone")
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("404 err = %v, want ErrValidation", err)
	}

	_, err = extractor.Extract(context.Background(), server.URL+"/flaky")
	if !errors.Is(err, services.ErrTransient) {
		t.Errorf("500 err = %v, want ErrTransient", err)
	}
}

func TestExtractUnreachableHostIsTransient(t *testing.T) {
	extractor := ingest.NewArticleExtractor(time.Second, nil)
	_, err := extractor.Extract(context.Background(), "http://127.0.0.1:1/article")
	if !errors.Is(err, services.ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
}

package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"scoville/internal/logging"
	"scoville/internal/services"
)

const maxArticleBody = 10 << 20

var whitespaceRE = regexp.MustCompile(`\s+`)

// Extracted is the normalized result of article extraction.
type Extracted struct {
	Title    string
	Text     string
	Language string
}

// ArticleExtractor fetches a page and pulls out its readable main text.
type ArticleExtractor struct {
	client *http.Client
	logger *slog.Logger
}

// NewArticleExtractor builds an extractor with the given fetch timeout.
func NewArticleExtractor(timeout time.Duration, logger *slog.Logger) *ArticleExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArticleExtractor{
		client: &http.Client{Timeout: timeout},
		logger: logging.WithComponent(logger, "extract"),
	}
}

// Extract downloads the page and returns its normalized readable text.
func (e *ArticleExtractor) Extract(ctx context.Context, pageURL string) (*Extracted, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "article", fmt.Sprintf("parse url %s", pageURL), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "article", "build request", err)
	}
	req.Header.Set("User-Agent", "scoville/1.0 (+content ingestion)")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "extract", "article", fmt.Sprintf("fetch %s", pageURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			marker = services.ErrValidation
		}
		return nil, services.Wrap(marker, "extract", "article",
			fmt.Sprintf("fetch %s: http %d", pageURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBody))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "extract", "article", fmt.Sprintf("read %s", pageURL), err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "article",
			fmt.Sprintf("no readable content at %s", pageURL), err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "article", "parse readable content", err)
	}

	text := NormalizeText(doc.Text())
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "extract", "article",
			fmt.Sprintf("empty article body at %s", pageURL), nil)
	}

	lang := strings.TrimSpace(article.Language)
	if lang == "" {
		if full, err := goquery.NewDocumentFromReader(strings.NewReader(string(body))); err == nil {
			lang, _ = full.Find("html").Attr("lang")
		}
	}

	return &Extracted{
		Title:    strings.TrimSpace(article.Title),
		Text:     text,
		Language: strings.ToLower(strings.TrimSpace(lang)),
	}, nil
}

// NormalizeText collapses all whitespace runs to single spaces and trims.
// Hashes are always computed over normalized text.
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// HashText returns the dedup hash of normalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

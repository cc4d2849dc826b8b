package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"scoville/internal/logging"
	"scoville/internal/services"
	"scoville/internal/store"
)

const (
	youtubeAPIBase = "https://www.googleapis.com/youtube/v3"
	// search.list costs 100 units against the daily 10k default quota.
	searchQuotaCost   = 100
	dailyQuotaDefault = 10000
)

// ErrQuotaExceeded is returned when the Data API rejects a request for
// quota reasons. Callers fall back to yt-dlp enumeration.
var ErrQuotaExceeded = errors.New("youtube api quota exceeded")

// QuotaExceeded reports whether err indicates Data API quota exhaustion.
func QuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// YouTubeClient enumerates videos through the YouTube Data API.
type YouTubeClient struct {
	apiKey     string
	maxResults int
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	quotaUsed int
}

// NewYouTubeClient builds a Data API client. An empty API key yields a
// client that reports Configured() false.
func NewYouTubeClient(apiKey string, maxResults int, logger *slog.Logger) *YouTubeClient {
	if maxResults <= 0 {
		maxResults = 25
	}
	return &YouTubeClient{
		apiKey:     strings.TrimSpace(apiKey),
		maxResults: maxResults,
		baseURL:    youtubeAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.WithComponent(logger, "youtube"),
	}
}

// Configured reports whether the client holds an API key.
func (c *YouTubeClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// QuotaSnapshot returns the usage accumulated by this process for recording.
func (c *YouTubeClient) QuotaSnapshot() store.Quota {
	c.mu.Lock()
	used := c.quotaUsed
	c.mu.Unlock()
	remaining := dailyQuotaDefault - used
	if remaining < 0 {
		remaining = 0
	}
	return store.Quota{Platform: "youtube", Used: used, Remaining: remaining}
}

// ChannelUploads lists the most recent uploads for a channel id.
func (c *YouTubeClient) ChannelUploads(ctx context.Context, channelID string, maxItems int) ([]Candidate, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, services.Wrap(services.ErrValidation, "youtube", "channel_uploads", "channel id is required", nil)
	}
	params := url.Values{}
	params.Set("channelId", channelID)
	return c.search(ctx, params, maxItems, "channel_uploads")
}

// Search lists videos matching a query, newest first.
func (c *YouTubeClient) Search(ctx context.Context, query string, maxItems int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, "youtube", "search", "query is required", nil)
	}
	params := url.Values{}
	params.Set("q", query)
	return c.search(ctx, params, maxItems, "search")
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *YouTubeClient) search(ctx context.Context, params url.Values, maxItems int, op string) ([]Candidate, error) {
	if !c.Configured() {
		return nil, services.Wrap(services.ErrConfiguration, "youtube", op, "api key is not configured", nil)
	}
	if maxItems <= 0 || maxItems > c.maxResults {
		maxItems = c.maxResults
	}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("maxResults", fmt.Sprintf("%d", maxItems))
	params.Set("key", c.apiKey)

	endpoint := c.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "youtube", op, "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "youtube", op, "http request", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "youtube", op, "read response", err)
	}

	c.mu.Lock()
	c.quotaUsed += searchQuotaCost
	c.mu.Unlock()

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, services.Wrap(services.ErrTransient, "youtube", op, "decode response", err)
	}
	if parsed.Error != nil {
		if quotaError(resp.StatusCode, parsed) {
			return nil, fmt.Errorf("youtube %s: %w: %s", op, ErrQuotaExceeded, parsed.Error.Message)
		}
		return nil, services.Wrap(services.ErrTransient, "youtube", op,
			fmt.Sprintf("api error %d: %s", parsed.Error.Code, parsed.Error.Message), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "youtube", op,
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}

	candidates := make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		videoID := strings.TrimSpace(item.ID.VideoID)
		if videoID == "" {
			continue
		}
		candidate := Candidate{
			URL:        "https://www.youtube.com/watch?v=" + videoID,
			Title:      strings.TrimSpace(item.Snippet.Title),
			ExternalID: videoID,
			Kind:       store.ItemVideo,
		}
		if published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			publishedUTC := published.UTC()
			candidate.PublishedAt = &publishedUTC
		}
		candidates = append(candidates, candidate)
	}
	c.logger.Debug("youtube enumeration complete", "op", op, "items", len(candidates))
	return candidates, nil
}

func quotaError(statusCode int, parsed searchResponse) bool {
	if parsed.Error == nil {
		return false
	}
	if statusCode == http.StatusForbidden || parsed.Error.Code == http.StatusForbidden {
		for _, detail := range parsed.Error.Errors {
			if strings.Contains(detail.Reason, "quota") || detail.Reason == "rateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

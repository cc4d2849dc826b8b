package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"scoville/internal/logging"
	"scoville/internal/services"
)

const (
	defaultBinary          = "yt-dlp"
	defaultMetadataTimeout = 60 * time.Second
	defaultDownloadTimeout = 10 * time.Minute
	defaultListTimeout     = 2 * time.Minute
)

// Config controls the yt-dlp invocations.
type Config struct {
	Binary          string
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	ListTimeout     time.Duration
}

// VideoMetadata is the subset of yt-dlp's --dump-json output the pipeline
// consumes.
type VideoMetadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Channel     string  `json:"channel"`
	Uploader    string  `json:"uploader"`
	UploadDate  string  `json:"upload_date"`
	Duration    float64 `json:"duration"`
	WebpageURL  string  `json:"webpage_url"`
}

// VideoRef identifies one video from a flat playlist listing.
type VideoRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Client shells out to yt-dlp through a CommandRunner.
type Client struct {
	cfg    Config
	runner services.CommandRunner
	logger *slog.Logger
}

// NewClient builds a yt-dlp client. A nil runner falls back to direct
// execution.
func NewClient(cfg Config, runner services.CommandRunner, logger *slog.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = defaultListTimeout
	}
	if runner == nil {
		runner = services.ExecRunner{}
	}
	return &Client{
		cfg:    cfg,
		runner: runner,
		logger: logging.WithComponent(logger, "ytdlp"),
	}
}

// FetchMetadata retrieves metadata for a single video without downloading it.
func (c *Client) FetchMetadata(ctx context.Context, videoURL string) (*VideoMetadata, error) {
	if strings.TrimSpace(videoURL) == "" {
		return nil, services.Wrap(services.ErrValidation, "ytdlp", "fetch_metadata", "video url is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MetadataTimeout)
	defer cancel()

	exec, err := c.runner.Run(ctx, c.cfg.Binary, "--dump-json", "--no-download", "--no-playlist", videoURL)
	if err := c.checkExecution(exec, err, "fetch_metadata", videoURL); err != nil {
		return nil, err
	}

	var meta VideoMetadata
	if err := json.Unmarshal([]byte(strings.TrimSpace(exec.Stdout)), &meta); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ytdlp", "fetch_metadata",
			fmt.Sprintf("parse metadata for %s", videoURL), err)
	}
	if meta.ID == "" {
		return nil, services.Wrap(services.ErrExternalTool, "ytdlp", "fetch_metadata",
			fmt.Sprintf("metadata for %s is missing a video id", videoURL), nil)
	}
	return &meta, nil
}

// DownloadAudio fetches the audio track for a video into destDir and returns
// the path of the downloaded file.
func (c *Client) DownloadAudio(ctx context.Context, videoURL, videoID, destDir string) (string, error) {
	if strings.TrimSpace(videoURL) == "" || strings.TrimSpace(videoID) == "" {
		return "", services.Wrap(services.ErrValidation, "ytdlp", "download_audio", "video url and id are required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	outputPath := filepath.Join(destDir, videoID+".m4a")
	exec, err := c.runner.Run(ctx, c.cfg.Binary,
		"--extract-audio",
		"--audio-format", "m4a",
		"--no-playlist",
		"--output", outputPath,
		videoURL)
	if err := c.checkExecution(exec, err, "download_audio", videoURL); err != nil {
		return "", err
	}

	c.logger.Info("audio downloaded", logging.FieldVideoID, videoID, "path", outputPath)
	return outputPath, nil
}

// EnumerateChannel lists recent uploads from a channel URL using a flat
// playlist dump. It is the fallback path when the Data API is unavailable
// or over quota.
func (c *Client) EnumerateChannel(ctx context.Context, channelURL string, maxResults int) ([]VideoRef, error) {
	return c.enumerate(ctx, channelURL, maxResults, "enumerate_channel")
}

// EnumerateSearch lists videos matching a search query via ytsearch.
func (c *Client) EnumerateSearch(ctx context.Context, query string, maxResults int) ([]VideoRef, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	target := fmt.Sprintf("ytsearch%d:%s", maxResults, query)
	return c.enumerate(ctx, target, maxResults, "enumerate_search")
}

func (c *Client) enumerate(ctx context.Context, target string, maxResults int, op string) ([]VideoRef, error) {
	if strings.TrimSpace(target) == "" {
		return nil, services.Wrap(services.ErrValidation, "ytdlp", op, "target is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	args := []string{"--flat-playlist", "--dump-json", "--no-download"}
	if maxResults > 0 {
		args = append(args, "--playlist-end", fmt.Sprintf("%d", maxResults))
	}
	args = append(args, target)

	exec, err := c.runner.Run(ctx, c.cfg.Binary, args...)
	if err := c.checkExecution(exec, err, op, target); err != nil {
		return nil, err
	}

	// One JSON object per line in flat playlist mode.
	var refs []VideoRef
	for _, line := range strings.Split(exec.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ref VideoRef
		if err := json.Unmarshal([]byte(line), &ref); err != nil {
			c.logger.Warn("skipping unparseable playlist entry", "error", err)
			continue
		}
		if ref.ID == "" {
			continue
		}
		if ref.URL == "" {
			ref.URL = "https://www.youtube.com/watch?v=" + ref.ID
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *Client) checkExecution(exec services.Execution, err error, op, target string) error {
	if exec.TimedOut {
		return services.Wrap(services.ErrTimeout, "ytdlp", op,
			fmt.Sprintf("yt-dlp timed out after %s for %s", exec.Duration, target), nil)
	}
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "ytdlp", op,
			fmt.Sprintf("yt-dlp invocation failed for %s", target), err)
	}
	if exec.ExitCode != 0 {
		return services.Wrap(services.ErrExternalTool, "ytdlp", op,
			fmt.Sprintf("yt-dlp exited %d for %s: %s", exec.ExitCode, target, tail(exec.Stderr, 400)), nil)
	}
	return nil
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}

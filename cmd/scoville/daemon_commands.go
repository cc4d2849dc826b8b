package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scoville/internal/engine"
)

// apiBase resolves the daemon's HTTP address from the loaded config.
func apiBase(ctx *commandContext) (string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return "", err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return "", fmt.Errorf("api_bind is not configured; the daemon has no HTTP address")
	}
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind, nil
}

func apiDo(ctx *commandContext, method, path string, body any) ([]byte, error) {
	base, err := apiBase(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is scovilled running? %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var parsed struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &parsed) == nil && parsed.Error != "" {
			return nil, fmt.Errorf("daemon: %s", parsed.Error)
		}
		return nil, fmt.Errorf("daemon: http %d", resp.StatusCode)
	}
	return payload, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := apiDo(ctx, http.MethodGet, "/api/status", nil)
			if err != nil {
				return err
			}
			var status engine.Status
			if err := json.Unmarshal(payload, &status); err != nil {
				return fmt.Errorf("parse status response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ready:   %v\n", status.Ready)
			fmt.Fprintf(out, "stories: %d\n", status.Stories)

			if len(status.Queues) > 0 {
				fmt.Fprintln(out, renderQueueStatsTable(status.Queues))
			}

			t := status.Transcriber
			fmt.Fprintf(out, "transcriber: %d pending, %d processing, %d completed, %d failed\n",
				t.Pending, t.Processing, t.Completed, t.Failed)
			return nil
		},
	}
}

func newPullCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [sourceID]",
		Short: "Trigger a source pull (all sources, or one by id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/pull"
			if len(args) == 1 {
				path = "/api/pull/" + args[0]
			}
			if _, err := apiDo(ctx, http.MethodPost, path, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pull triggered")
			return nil
		},
	}
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <url>",
		Short: "Ingest a single URL (article or video)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := apiDo(ctx, http.MethodPost, "/api/ingest", map[string]string{"url": args[0]})
			if err != nil {
				return err
			}
			var parsed struct {
				JobID string `json:"jobId"`
			}
			_ = json.Unmarshal(payload, &parsed)
			fmt.Fprintf(cmd.OutOrStdout(), "ingest queued (job %s)\n", parsed.JobID)
			return nil
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		problems = append(problems, "paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		problems = append(problems, "paths.api_bind must be set")
	}

	if c.Queue.PollInterval <= 0 {
		problems = append(problems, "queue.poll_interval must be positive")
	}
	if c.Queue.HeartbeatTimeout <= c.Queue.HeartbeatInterval {
		problems = append(problems, "queue.heartbeat_timeout must exceed queue.heartbeat_interval")
	}
	if _, err := time.LoadLocation(c.Queue.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("queue.timezone %q is not a valid location", c.Queue.Timezone))
	}
	for queue, size := range c.Queue.BatchSizes {
		if size <= 0 {
			problems = append(problems, fmt.Sprintf("queue.batch_sizes[%s] must be positive", queue))
		}
	}

	if c.Transcription.MaxConcurrentJobs <= 0 {
		problems = append(problems, "transcription.max_concurrent_jobs must be positive")
	}
	if c.Transcription.MaxRetries < 0 {
		problems = append(problems, "transcription.max_retries must not be negative")
	}
	if c.Transcription.RetryBaseDelay <= 0 || c.Transcription.RetryMaxDelay < c.Transcription.RetryBaseDelay {
		problems = append(problems, "transcription retry delays must satisfy 0 < retry_base_delay <= retry_max_delay")
	}
	if c.Transcription.TimeoutFloor <= 0 || c.Transcription.TimeoutPerMB <= 0 {
		problems = append(problems, "transcription timeout_floor and timeout_per_mb must be positive")
	}

	if c.Ingest.MaxItemsPerSource <= 0 {
		problems = append(problems, "ingest.max_items_per_source must be positive")
	}
	if c.LLM.EmbeddingDimensions <= 0 {
		problems = append(problems, "llm.embedding_dimensions must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

// Location resolves the queue timezone; validation guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Queue.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

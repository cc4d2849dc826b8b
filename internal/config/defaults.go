package config

const (
	defaultDataDir = "~/.local/share/scoville/data"
	defaultWorkDir = "~/.local/share/scoville/work"
	defaultLogDir  = "~/.local/share/scoville/logs"
	defaultAPIBind = "127.0.0.1:7393"

	defaultQueueTimezone          = "UTC"
	defaultQueuePollInterval      = 2
	defaultQueueHeartbeatInterval = 15
	defaultQueueHeartbeatTimeout  = 120
	defaultQueueStartupRetries    = 5
	defaultQueueStartupRetryDelay = 3

	defaultRSSPullCron        = "*/5 * * * *"
	defaultVideoPullCron      = "*/15 * * * *"
	defaultMaxItemsPerSource  = 25
	defaultSegmentSampleCount = 5
	defaultDescriptionExcerpt = 500
	defaultFetchTimeout       = 30

	defaultMaxConcurrentJobs = 1
	defaultMaxRetries        = 2
	defaultRetryBaseDelay    = 5
	defaultRetryMaxDelay     = 300
	defaultCleanupAge        = 3600
	defaultWhisperBinary     = "whisper"
	defaultWhisperModel      = "base"
	defaultTimeoutFloor      = 300
	defaultTimeoutPerMB      = 10

	defaultYtDlpBinary       = "yt-dlp"
	defaultYouTubeMaxResults = 25

	defaultLLMBaseURL       = "https://api.openai.com/v1"
	defaultLLMModel         = "gpt-4o-mini"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingDims    = 256
	defaultLLMTimeout       = 60
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultQueueAutoMigrate = true
)

// Queue names used throughout the pipeline. Batch size overrides in the
// config file are keyed by these.
const (
	QueuePullSources   = "pull-sources"
	QueuePullSource    = "pull-source"
	QueueExtractVideo  = "extract-video"
	QueueExtractRSS    = "extract-rss"
	QueueAnalyzeStory  = "analyze-story"
	QueueIngestURL     = "ingest-url"
	QueueCleanupOrphan = "cleanup"
)

// QueueNames returns every pipeline queue in creation order.
func QueueNames() []string {
	return []string{
		QueuePullSources,
		QueuePullSource,
		QueueExtractVideo,
		QueueExtractRSS,
		QueueAnalyzeStory,
		QueueIngestURL,
		QueueCleanupOrphan,
	}
}

var defaultBatchSizes = map[string]int{
	QueuePullSources:   1,
	QueuePullSource:    5,
	QueueExtractVideo:  1,
	QueueExtractRSS:    10,
	QueueAnalyzeStory:  5,
	QueueIngestURL:     1,
	QueueCleanupOrphan: 1,
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Database: Database{
			AutoMigrate: defaultQueueAutoMigrate,
		},
		Queue: Queue{
			Timezone:          defaultQueueTimezone,
			PollInterval:      defaultQueuePollInterval,
			HeartbeatInterval: defaultQueueHeartbeatInterval,
			HeartbeatTimeout:  defaultQueueHeartbeatTimeout,
			StartupRetries:    defaultQueueStartupRetries,
			StartupRetryDelay: defaultQueueStartupRetryDelay,
		},
		Ingest: Ingest{
			RSSPullCron:        defaultRSSPullCron,
			VideoPullCron:      defaultVideoPullCron,
			MaxItemsPerSource:  defaultMaxItemsPerSource,
			SegmentSampleCount: defaultSegmentSampleCount,
			DescriptionExcerpt: defaultDescriptionExcerpt,
			FetchTimeout:       defaultFetchTimeout,
		},
		Transcription: Transcription{
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			MaxRetries:        defaultMaxRetries,
			RetryBaseDelay:    defaultRetryBaseDelay,
			RetryMaxDelay:     defaultRetryMaxDelay,
			CleanupAge:        defaultCleanupAge,
			WhisperBinary:     defaultWhisperBinary,
			Model:             defaultWhisperModel,
			TimeoutFloor:      defaultTimeoutFloor,
			TimeoutPerMB:      defaultTimeoutPerMB,
		},
		YouTube: YouTube{
			YtDlpBinary: defaultYtDlpBinary,
			MaxResults:  defaultYouTubeMaxResults,
		},
		LLM: LLM{
			BaseURL:             defaultLLMBaseURL,
			Model:               defaultLLMModel,
			EmbeddingModel:      defaultEmbeddingModel,
			EmbeddingDimensions: defaultEmbeddingDims,
			TimeoutSeconds:      defaultLLMTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// BatchSize resolves the worker batch size for a queue, falling back to the
// built-in default for that queue, then 1.
func (c *Config) BatchSize(queue string) int {
	if size, ok := c.Queue.BatchSizes[queue]; ok && size > 0 {
		return size
	}
	if size, ok := defaultBatchSizes[queue]; ok {
		return size
	}
	return 1
}

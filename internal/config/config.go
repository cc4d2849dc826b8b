package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Environment variables recognized in addition to the config file. Credentials
// live in the environment so config files can be committed without secrets.
const (
	EnvConfigPath    = "SCOVILLE_CONFIG"
	EnvDatabasePath  = "SCOVILLE_DB_PATH"
	EnvYouTubeAPIKey = "YOUTUBE_API_KEY"
	EnvLLMAPIKey     = "LLM_API_KEY"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Database describes the engine's SQLite database.
type Database struct {
	// Path overrides the default location under DataDir when set.
	Path        string `toml:"path"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// Queue contains durable job queue tuning.
type Queue struct {
	Timezone          string         `toml:"timezone"`
	PollInterval      int            `toml:"poll_interval"`
	HeartbeatInterval int            `toml:"heartbeat_interval"`
	HeartbeatTimeout  int            `toml:"heartbeat_timeout"`
	BatchSizes        map[string]int `toml:"batch_sizes"`
	StartupRetries    int            `toml:"startup_retries"`
	StartupRetryDelay int            `toml:"startup_retry_delay"`
}

// Ingest contains source pull cadence and extraction settings.
type Ingest struct {
	RSSPullCron        string `toml:"rss_pull_cron"`
	VideoPullCron      string `toml:"video_pull_cron"`
	MaxItemsPerSource  int    `toml:"max_items_per_source"`
	SegmentSampleCount int    `toml:"segment_sample_count"`
	DescriptionExcerpt int    `toml:"description_excerpt_chars"`
	FetchTimeout       int    `toml:"fetch_timeout"`
}

// Transcription contains local transcription queue and whisper settings.
type Transcription struct {
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"`
	MaxRetries        int    `toml:"max_retries"`
	RetryBaseDelay    int    `toml:"retry_base_delay"`
	RetryMaxDelay     int    `toml:"retry_max_delay"`
	CleanupAge        int    `toml:"cleanup_age"`
	WhisperBinary     string `toml:"whisper_binary"`
	Model             string `toml:"model"`
	Language          string `toml:"language"`
	InitialPrompt     string `toml:"initial_prompt"`
	TimeoutFloor      int    `toml:"timeout_floor"`
	TimeoutPerMB      int    `toml:"timeout_per_mb"`
}

// YouTube contains video platform access settings. An empty APIKey switches
// channel and search enumeration to the yt-dlp fallback.
type YouTube struct {
	APIKey      string `toml:"api_key"`
	YtDlpBinary string `toml:"ytdlp_binary"`
	MaxResults  int    `toml:"max_results"`
}

// LLM contains analysis model connection settings. An empty APIKey switches
// the analysis worker to its deterministic stub path.
type LLM struct {
	APIKey              string `toml:"api_key"`
	BaseURL             string `toml:"base_url"`
	Model               string `toml:"model"`
	EmbeddingModel      string `toml:"embedding_model"`
	EmbeddingDimensions int    `toml:"embedding_dimensions"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Scoville.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Queue         Queue         `toml:"queue"`
	Ingest        Ingest        `toml:"ingest"`
	Transcription Transcription `toml:"transcription"`
	YouTube       YouTube       `toml:"youtube"`
	LLM           LLM           `toml:"llm"`
	Logging       Logging       `toml:"logging"`
}

// LogDir returns the resolved log directory.
func (c *Config) LogDir() string { return c.Paths.LogDir }

// LogLevel returns the configured log level.
func (c *Config) LogLevel() string { return c.Logging.Level }

// LogFormat returns the configured log format.
func (c *Config) LogFormat() string { return c.Logging.Format }

// DatabasePath resolves the SQLite database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Database.Path) != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Paths.DataDir, "scoville.db")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string { return sampleConfig }

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scoville/config.toml")
}

// Load locates, parses, and validates a configuration file. Credentials from
// the environment (and a .env file when present) override file values. The
// returned config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	// Best effort; a missing .env file is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() {
	if value := strings.TrimSpace(os.Getenv(EnvDatabasePath)); value != "" {
		c.Database.Path = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvYouTubeAPIKey)); value != "" {
		c.YouTube.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvLLMAPIKey)); value != "" {
		c.LLM.APIKey = value
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("scoville.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Database.Path != "" {
		if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDirectories creates required directories for engine operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves ~ and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded annotated sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

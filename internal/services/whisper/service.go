package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"scoville/internal/logging"
	"scoville/internal/services"
)

// Segment is one timestamped span of transcribed speech.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the uniform outcome of one transcription attempt. Failures are
// reported in-band (Success=false) so callers have a single path to branch
// on; Transcribe never returns a Go error for a failed transcription.
type Result struct {
	Text             string
	Segments         []Segment
	Language         string
	Duration         float64
	Success          bool
	Error            string
	ModelUsed        string
	ProcessingTimeMS int64
}

// Service drives the whisper CLI as a subprocess.
type Service struct {
	cfg    Config
	runner services.CommandRunner
	logger *slog.Logger
}

// NewService creates a whisper service. A nil runner uses the real
// subprocess runner.
func NewService(cfg Config, runner services.CommandRunner, logger *slog.Logger) *Service {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TimeoutFloor <= 0 {
		cfg.TimeoutFloor = defaultTimeoutMin
	}
	if cfg.TimeoutPerMB <= 0 {
		cfg.TimeoutPerMB = defaultPerMB
	}
	if runner == nil {
		runner = services.ExecRunner{}
	}
	return &Service{
		cfg:    cfg,
		runner: runner,
		logger: logging.WithComponent(logger, "whisper"),
	}
}

// Model returns the configured model name.
func (s *Service) Model() string { return s.cfg.Model }

// Timeout computes the transcription deadline for an input of the given
// size: max(floor, sizeMB * perMB). Partial megabytes round up so the
// scaled term never undershoots the true size.
func (s *Service) Timeout(sizeBytes int64) time.Duration {
	sizeMB := (sizeBytes + (1 << 20) - 1) / (1 << 20)
	scaled := time.Duration(sizeMB) * s.cfg.TimeoutPerMB
	if scaled < s.cfg.TimeoutFloor {
		return s.cfg.TimeoutFloor
	}
	return scaled
}

// Transcribe runs whisper over an audio file and parses its JSON output.
// The output artifact is removed on every path.
func (s *Service) Transcribe(ctx context.Context, audioPath, videoID string, opts Options) Result {
	start := time.Now()
	result := Result{ModelUsed: s.cfg.Model}
	finish := func(r Result) Result {
		r.ProcessingTimeMS = time.Since(start).Milliseconds()
		return r
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		result.Error = fmt.Sprintf("audio file unavailable: %v", err)
		return finish(result)
	}

	outputDir := filepath.Dir(audioPath)
	outputPath := jsonOutputPath(audioPath, outputDir)
	defer func() { _ = os.Remove(outputPath) }()

	timeout := s.Timeout(info.Size())
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := s.buildArgs(audioPath, outputDir, opts)
	execution, runErr := s.runner.Run(runCtx, s.cfg.Binary, args...)

	s.logger.Debug("whisper finished",
		logging.String(logging.FieldVideoID, videoID),
		logging.Int("exit_code", execution.ExitCode),
		logging.Duration("elapsed", execution.Duration),
		logging.Bool("timed_out", execution.TimedOut))

	switch {
	case execution.TimedOut:
		result.Error = fmt.Sprintf("transcription timed out after %s", timeout)
		return finish(result)
	case runErr != nil:
		result.Error = fmt.Sprintf("whisper invocation failed: %v", runErr)
		return finish(result)
	case execution.ExitCode != 0:
		result.Error = fmt.Sprintf("whisper exited %d: %s",
			execution.ExitCode, tail(execution.Stderr+execution.Stdout, 500))
		return finish(result)
	}

	payload, err := os.ReadFile(outputPath)
	if err != nil {
		result.Error = fmt.Sprintf("transcript output missing: %v", err)
		return finish(result)
	}

	parsed, err := parseOutput(payload)
	if err != nil {
		result.Error = fmt.Sprintf("transcript output unparseable: %v", err)
		return finish(result)
	}

	result.Text = parsed.text
	result.Segments = parsed.segments
	result.Language = parsed.language
	result.Duration = parsed.duration
	result.Success = true
	return finish(result)
}

// buildArgs constructs the whisper CLI arguments: a base decoding set plus
// optional parameters appended only when explicitly provided.
func (s *Service) buildArgs(audioPath, outputDir string, opts Options) []string {
	args := []string{
		audioPath,
		"--model", s.cfg.Model,
		"--task", Task,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--compression_ratio_threshold", CompressionRatio,
		"--logprob_threshold", LogProbThreshold,
	}

	threshold := opts.NoSpeechThreshold
	if threshold <= 0 {
		threshold = DefaultNoSpeech
	}
	args = append(args, "--no_speech_threshold", strconv.FormatFloat(threshold, 'f', -1, 64))

	if lang := NormalizeLanguage(opts.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--initial_prompt", opts.InitialPrompt)
	}
	if opts.SuppressTokens != "" {
		args = append(args, "--suppress_tokens", opts.SuppressTokens)
	}
	if opts.Punctuations != "" {
		args = append(args, "--prepend_punctuations", opts.Punctuations)
	}
	return args
}

// NormalizeLanguage maps a BCP 47 language tag to the two-letter code
// whisper expects; unknown input yields "" so the model autodetects.
func NormalizeLanguage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

type parsedOutput struct {
	text     string
	segments []Segment
	language string
	duration float64
}

type whisperPayload struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

func parseOutput(data []byte) (parsedOutput, error) {
	var payload whisperPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return parsedOutput{}, fmt.Errorf("parse whisper json: %w", err)
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		var parts []string
		for _, segment := range payload.Segments {
			if trimmed := strings.TrimSpace(segment.Text); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		text = strings.Join(parts, " ")
	}

	var duration float64
	if n := len(payload.Segments); n > 0 {
		duration = payload.Segments[n-1].End
	}

	return parsedOutput{
		text:     text,
		segments: payload.Segments,
		language: payload.Language,
		duration: duration,
	}, nil
}

func jsonOutputPath(audioPath, outputDir string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(outputDir, base+".json")
}

func tail(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[len(text)-max:]
}

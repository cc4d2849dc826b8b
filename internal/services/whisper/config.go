package whisper

import "time"

// Config captures runtime settings for whisper invocations.
type Config struct {
	// Binary is the whisper CLI executable.
	Binary string
	// Model selects the whisper model size (e.g. "base", "small").
	Model string
	// TimeoutFloor is the minimum transcription timeout regardless of
	// input size; small files must not be killed early just for being small.
	TimeoutFloor time.Duration
	// TimeoutPerMB scales the timeout with input size so large files are
	// not starved by a flat constant.
	TimeoutPerMB time.Duration
}

// Options are per-invocation overrides. Optional fields are only passed to
// the subprocess when set, preserving default model behavior otherwise.
type Options struct {
	Language          string
	InitialPrompt     string
	SuppressTokens    string
	NoSpeechThreshold float64
	Punctuations      string
}

// Decoding constants shared by every invocation.
const (
	DefaultModel      = "base"
	DefaultBinary     = "whisper"
	Task              = "transcribe"
	BeamSize          = "5"
	BestOf            = "5"
	Temperature       = "0.0"
	CompressionRatio  = "2.4"
	LogProbThreshold  = "-1.0"
	OutputFormat      = "json"
	DefaultNoSpeech   = 0.6
	defaultTimeoutMin = 5 * time.Minute
	defaultPerMB      = 10 * time.Second
)

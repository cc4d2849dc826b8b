package whisper_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"scoville/internal/services"
	"scoville/internal/services/whisper"
)

// fakeRunner captures the invocation and simulates the whisper CLI by
// writing the JSON artifact the service expects.
type fakeRunner struct {
	args      []string
	execution services.Execution
	err       error
	output    string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (services.Execution, error) {
	f.args = append([]string{name}, args...)
	if f.output != "" {
		audioPath := args[0]
		outputPath := filepath.Join(filepath.Dir(audioPath),
			filepath.Base(audioPath[:len(audioPath)-len(filepath.Ext(audioPath))])+".json")
		if err := os.WriteFile(outputPath, []byte(f.output), 0o644); err != nil {
			panic(err)
		}
	}
	return f.execution, f.err
}

func writeAudio(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.m4a")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestTimeoutScalesWithInputSize(t *testing.T) {
	svc := whisper.NewService(whisper.Config{
		TimeoutFloor: 5 * time.Minute,
		TimeoutPerMB: 10 * time.Second,
	}, &fakeRunner{}, nil)

	// Small input stays at the floor.
	if got := svc.Timeout(1 << 20); got != 5*time.Minute {
		t.Fatalf("timeout for 1MB = %s, want floor", got)
	}
	// 60MB * 10s = 10m beats the floor.
	if got := svc.Timeout(60 << 20); got != 10*time.Minute {
		t.Fatalf("timeout for 60MB = %s, want 10m", got)
	}
	// A partial megabyte rounds up, so the scaled term covers the whole
	// input rather than the truncated size.
	if got := svc.Timeout(60<<20 + 1); got != 10*time.Minute+10*time.Second {
		t.Fatalf("timeout for 60MB+1B = %s, want 10m10s", got)
	}
}

func TestTranscribeBuildsArgs(t *testing.T) {
	runner := &fakeRunner{output: `{"text":"hello","segments":[],"language":"en"}`}
	svc := whisper.NewService(whisper.Config{Binary: "whisper", Model: "small"}, runner, nil)
	audio := writeAudio(t, 1024)

	result := svc.Transcribe(context.Background(), audio, "vid", whisper.Options{
		Language:      "en-US",
		InitialPrompt: "News broadcast.",
	})
	if !result.Success {
		t.Fatalf("transcribe failed: %s", result.Error)
	}

	for _, want := range [][]string{
		{"--model", "small"},
		{"--task", "transcribe"},
		{"--output_format", "json"},
		{"--language", "en"},
		{"--initial_prompt", "News broadcast."},
	} {
		idx := slices.Index(runner.args, want[0])
		if idx < 0 || idx+1 >= len(runner.args) || runner.args[idx+1] != want[1] {
			t.Errorf("args missing %v: %v", want, runner.args)
		}
	}
	if slices.Contains(runner.args, "--suppress_tokens") {
		t.Error("suppress_tokens passed without being set")
	}
}

func TestTranscribeParsesSegments(t *testing.T) {
	runner := &fakeRunner{output: `{
		"text": "",
		"segments": [
			{"id": 0, "start": 0.0, "end": 2.5, "text": " first part"},
			{"id": 1, "start": 2.5, "end": 6.0, "text": " second part "}
		],
		"language": "en"
	}`}
	svc := whisper.NewService(whisper.Config{}, runner, nil)
	audio := writeAudio(t, 1024)

	result := svc.Transcribe(context.Background(), audio, "vid", whisper.Options{})
	if !result.Success {
		t.Fatalf("transcribe failed: %s", result.Error)
	}
	if result.Text != "first part second part" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d", len(result.Segments))
	}
	if result.Duration != 6.0 {
		t.Fatalf("duration = %v", result.Duration)
	}
	if result.Language != "en" {
		t.Fatalf("language = %q", result.Language)
	}
}

func TestTranscribeReportsFailuresInBand(t *testing.T) {
	audio := writeAudio(t, 1024)

	t.Run("nonzero exit", func(t *testing.T) {
		runner := &fakeRunner{execution: services.Execution{ExitCode: 2, Stderr: "CUDA out of memory"}}
		result := whisper.NewService(whisper.Config{}, runner, nil).
			Transcribe(context.Background(), audio, "vid", whisper.Options{})
		if result.Success {
			t.Fatal("expected failure")
		}
		if result.Error == "" {
			t.Fatal("expected error message")
		}
	})

	t.Run("timed out", func(t *testing.T) {
		runner := &fakeRunner{execution: services.Execution{TimedOut: true}}
		result := whisper.NewService(whisper.Config{}, runner, nil).
			Transcribe(context.Background(), audio, "vid", whisper.Options{})
		if result.Success {
			t.Fatal("expected failure")
		}
	})

	t.Run("missing audio", func(t *testing.T) {
		result := whisper.NewService(whisper.Config{}, &fakeRunner{}, nil).
			Transcribe(context.Background(), "/nonexistent/clip.m4a", "vid", whisper.Options{})
		if result.Success {
			t.Fatal("expected failure")
		}
	})
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"en-US": "en",
		"de-DE": "de",
		"":      "",
		"12345": "",
	}
	for input, want := range cases {
		if got := whisper.NormalizeLanguage(input); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", input, got, want)
		}
	}
}

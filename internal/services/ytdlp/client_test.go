package ytdlp_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"scoville/internal/services"
	"scoville/internal/services/ytdlp"
)

type fakeRunner struct {
	args      []string
	execution services.Execution
	err       error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (services.Execution, error) {
	f.args = append([]string{name}, args...)
	return f.execution, f.err
}

func TestFetchMetadataParsesDump(t *testing.T) {
	runner := &fakeRunner{execution: services.Execution{
		Stdout: `{"id": "vid-1", "title": "Budget hearing", "channel": "City Hall", "upload_date": "20260815", "duration": 1820.5, "webpage_url": "https://www.youtube.com/watch?v=vid-1"}`,
	}}
	client := ytdlp.NewClient(ytdlp.Config{}, runner, nil)

	meta, err := client.FetchMetadata(context.Background(), "https://www.youtube.com/watch?v=vid-1")
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if meta.ID != "vid-1" || meta.Title != "Budget hearing" || meta.Duration != 1820.5 {
		t.Fatalf("meta = %+v", meta)
	}
	for _, flag := range []string{"--dump-json", "--no-download", "--no-playlist"} {
		if !slices.Contains(runner.args, flag) {
			t.Errorf("args missing %s: %v", flag, runner.args)
		}
	}
}

func TestFetchMetadataRejectsMissingID(t *testing.T) {
	runner := &fakeRunner{execution: services.Execution{Stdout: `{"title": "no id"}`}}
	client := ytdlp.NewClient(ytdlp.Config{}, runner, nil)

	if _, err := client.FetchMetadata(context.Background(), "https://example.com/v"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("err = %v, want ErrExternalTool", err)
	}
}

func TestDownloadAudioBuildsOutputPath(t *testing.T) {
	runner := &fakeRunner{}
	client := ytdlp.NewClient(ytdlp.Config{}, runner, nil)

	path, err := client.DownloadAudio(context.Background(), "https://www.youtube.com/watch?v=vid-1", "vid-1", "/tmp/scratch")
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if path != filepath.Join("/tmp/scratch", "vid-1.m4a") {
		t.Fatalf("path = %q", path)
	}
	for _, flag := range []string{"--extract-audio", "--audio-format"} {
		if !slices.Contains(runner.args, flag) {
			t.Errorf("args missing %s: %v", flag, runner.args)
		}
	}
}

func TestEnumerateParsesFlatPlaylistLines(t *testing.T) {
	runner := &fakeRunner{execution: services.Execution{Stdout: `
{"id": "a1", "title": "First", "url": "https://www.youtube.com/watch?v=a1"}
not json at all
{"id": "", "title": "missing id"}
{"id": "b2", "title": "Second"}
`}}
	client := ytdlp.NewClient(ytdlp.Config{}, runner, nil)

	refs, err := client.EnumerateChannel(context.Background(), "https://www.youtube.com/@somechannel", 10)
	if err != nil {
		t.Fatalf("EnumerateChannel: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].ID != "a1" || refs[1].ID != "b2" {
		t.Fatalf("refs = %+v", refs)
	}
	// Entries without a URL get the canonical watch URL.
	if refs[1].URL != "https://www.youtube.com/watch?v=b2" {
		t.Errorf("url = %q", refs[1].URL)
	}
	idx := slices.Index(runner.args, "--playlist-end")
	if idx < 0 || runner.args[idx+1] != "10" {
		t.Errorf("playlist-end not set: %v", runner.args)
	}
}

func TestEnumerateSearchUsesYtsearchTarget(t *testing.T) {
	runner := &fakeRunner{}
	client := ytdlp.NewClient(ytdlp.Config{}, runner, nil)

	if _, err := client.EnumerateSearch(context.Background(), "water rates", 7); err != nil {
		t.Fatalf("EnumerateSearch: %v", err)
	}
	if got := runner.args[len(runner.args)-1]; got != "ytsearch7:water rates" {
		t.Fatalf("target = %q", got)
	}
}

func TestExecutionFailuresMapToSentinels(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		client := ytdlp.NewClient(ytdlp.Config{}, &fakeRunner{execution: services.Execution{TimedOut: true}}, nil)
		_, err := client.FetchMetadata(context.Background(), "https://example.com/v")
		if !errors.Is(err, services.ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		client := ytdlp.NewClient(ytdlp.Config{}, &fakeRunner{execution: services.Execution{ExitCode: 1, Stderr: "ERROR: video unavailable"}}, nil)
		_, err := client.FetchMetadata(context.Background(), "https://example.com/v")
		if !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("err = %v, want ErrExternalTool", err)
		}
	})

	t.Run("spawn failure", func(t *testing.T) {
		client := ytdlp.NewClient(ytdlp.Config{}, &fakeRunner{err: errors.New("executable not found")}, nil)
		_, err := client.FetchMetadata(context.Background(), "https://example.com/v")
		if !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("err = %v, want ErrExternalTool", err)
		}
	})
}

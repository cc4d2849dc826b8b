package ingest_test

import (
	"strings"
	"testing"

	"scoville/internal/ingest"
	"scoville/internal/services/whisper"
	"scoville/internal/services/ytdlp"
)

func TestBuildEnrichedTextLayout(t *testing.T) {
	meta := &ytdlp.VideoMetadata{
		ID:          "abc123",
		Title:       "City council votes on zoning",
		Channel:     "Local News",
		Description: "Full coverage of the council session.",
		UploadDate:  "20260812",
		Duration:    754,
	}
	result := whisper.Result{
		Text: "The council voted seven to two in favor of the rezoning plan.",
		Segments: []whisper.Segment{
			{Start: 0, End: 4, Text: "The council voted"},
			{Start: 4, End: 9, Text: "seven to two"},
			{Start: 9, End: 14, Text: "in favor of the rezoning plan"},
		},
		Success: true,
	}

	text := ingest.BuildEnrichedText(meta, result, 10, 500)

	for _, want := range []string{
		"Title: City council votes on zoning",
		"Channel: Local News",
		"Duration: 12:34",
		"Uploaded: 2026-08-12",
		"Description: Full coverage of the council session.",
		"Key moments:",
		"[00:00] The council voted",
		"Transcript:",
		"seven to two in favor",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("enriched text missing %q:\n%s", want, text)
		}
	}

	header := strings.Index(text, "Title:")
	moments := strings.Index(text, "Key moments:")
	transcript := strings.Index(text, "Transcript:")
	if !(header < moments && moments < transcript) {
		t.Errorf("sections out of order: title=%d moments=%d transcript=%d", header, moments, transcript)
	}
}

func TestBuildEnrichedTextIsDeterministic(t *testing.T) {
	meta := &ytdlp.VideoMetadata{Title: "Same video", Uploader: "fallback channel"}
	result := whisper.Result{Text: "identical transcript"}

	first := ingest.BuildEnrichedText(meta, result, 5, 100)
	second := ingest.BuildEnrichedText(meta, result, 5, 100)
	if ingest.HashText(first) != ingest.HashText(second) {
		t.Fatal("same input hashed differently")
	}
	if !strings.Contains(first, "Channel: fallback channel") {
		t.Errorf("uploader fallback not applied:\n%s", first)
	}
}

func TestBuildEnrichedTextTruncatesDescription(t *testing.T) {
	meta := &ytdlp.VideoMetadata{
		Title:       "Long description",
		Description: strings.Repeat("word ", 200),
	}
	text := ingest.BuildEnrichedText(meta, whisper.Result{Text: "t"}, 0, 40)

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "Description: ") {
			if !strings.HasSuffix(line, "...") {
				t.Errorf("description not truncated: %q", line)
			}
			return
		}
	}
	t.Fatal("description line missing")
}

func TestBuildEnrichedTextSamplesAcrossRuntime(t *testing.T) {
	segments := make([]whisper.Segment, 100)
	for i := range segments {
		segments[i] = whisper.Segment{Start: float64(i * 10), Text: "segment"}
	}
	meta := &ytdlp.VideoMetadata{Title: "Long video"}
	text := ingest.BuildEnrichedText(meta, whisper.Result{Text: "t", Segments: segments}, 4, 0)

	// 100 segments sampled down to 4 evenly spaced picks.
	count := strings.Count(text, "[")
	if count != 4 {
		t.Fatalf("sampled segments = %d, want 4", count)
	}
	if !strings.Contains(text, "[00:00]") {
		t.Error("sample skipped the opening")
	}
	if !strings.Contains(text, "[12:30]") {
		t.Errorf("sample did not reach the back half:\n%s", text)
	}
}

func TestNormalizeText(t *testing.T) {
	got := ingest.NormalizeText("  a\tb\n\nc   d  ")
	if got != "a b c d" {
		t.Fatalf("NormalizeText = %q", got)
	}
}

func TestHashTextStableAcrossWhitespaceNormalization(t *testing.T) {
	a := ingest.HashText(ingest.NormalizeText("seven   words\nacross lines"))
	b := ingest.HashText(ingest.NormalizeText("seven words across lines"))
	if a != b {
		t.Fatal("normalized equivalents hashed differently")
	}
	if a == ingest.HashText("seven words across line") {
		t.Fatal("distinct text collided")
	}
}

func TestNormalizeMultilineCollapsesBlankRuns(t *testing.T) {
	got := ingest.NormalizeMultiline("Title: a\n\n\n\nBody line  \n\n")
	if got != "Title: a\n\nBody line" {
		t.Fatalf("NormalizeMultiline = %q", got)
	}
}

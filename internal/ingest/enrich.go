package ingest

import (
	"fmt"
	"strings"
	"time"

	"scoville/internal/services/whisper"
	"scoville/internal/services/ytdlp"
)

// BuildEnrichedText assembles the stored text for a transcribed video. The
// metadata header and a bounded sample of timestamped segments come first so
// a token-budgeted analysis pass sees the most informative context before
// the full transcript. The dedup hash is computed over this final text.
func BuildEnrichedText(meta *ytdlp.VideoMetadata, result whisper.Result, segmentSample, excerptChars int) string {
	var b strings.Builder

	b.WriteString("Title: " + strings.TrimSpace(meta.Title) + "\n")
	channel := meta.Channel
	if channel == "" {
		channel = meta.Uploader
	}
	if channel != "" {
		b.WriteString("Channel: " + channel + "\n")
	}
	if meta.Duration > 0 {
		b.WriteString("Duration: " + formatDuration(meta.Duration) + "\n")
	}
	if meta.UploadDate != "" {
		b.WriteString("Uploaded: " + formatUploadDate(meta.UploadDate) + "\n")
	}
	if excerpt := excerptText(meta.Description, excerptChars); excerpt != "" {
		b.WriteString("Description: " + excerpt + "\n")
	}

	if samples := sampleSegments(result.Segments, segmentSample); len(samples) > 0 {
		b.WriteString("\nKey moments:\n")
		for _, seg := range samples {
			b.WriteString(fmt.Sprintf("[%s] %s\n", formatTimestamp(seg.Start), strings.TrimSpace(seg.Text)))
		}
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(strings.TrimSpace(result.Text))

	return NormalizeMultiline(b.String())
}

// NormalizeMultiline trims trailing space per line and collapses runs of
// blank lines, preserving the line structure the enrichment relies on.
func NormalizeMultiline(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// sampleSegments picks up to limit segments spread evenly across the
// transcript so the sample covers the whole runtime, not just the opening.
func sampleSegments(segments []whisper.Segment, limit int) []whisper.Segment {
	if limit <= 0 || len(segments) == 0 {
		return nil
	}
	if len(segments) <= limit {
		return segments
	}
	out := make([]whisper.Segment, 0, limit)
	step := float64(len(segments)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, segments[int(float64(i)*step)])
	}
	return out
}

func excerptText(text string, limit int) string {
	text = NormalizeText(text)
	if limit <= 0 || text == "" {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	total := int(d.Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func formatDuration(seconds float64) string {
	return formatTimestamp(seconds)
}

// formatUploadDate converts yt-dlp's YYYYMMDD form to ISO, passing through
// anything it cannot parse.
func formatUploadDate(raw string) string {
	if parsed, err := time.Parse("20060102", raw); err == nil {
		return parsed.Format("2006-01-02")
	}
	return raw
}

package analysis

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// StubModelVersion marks overlays and embeddings produced without the
// external model, so consumers can tell the paths apart.
const StubModelVersion = "stub-v1"

const stubEmbeddingDims = 64

// hotKeywords drive the heuristic chili score. Each distinct keyword hit
// adds one point, capped at 5.
var hotKeywords = []string{
	"breaking", "urgent", "crisis", "scandal", "lawsuit", "outage",
	"breach", "hack", "exploit", "vulnerability", "recall", "ban",
	"resign", "fraud", "emergency", "shutdown", "layoff", "strike",
}

// stubChili scores text deterministically from keyword hits.
func stubChili(text string) int {
	lowered := strings.ToLower(text)
	score := 0
	for _, keyword := range hotKeywords {
		if strings.Contains(lowered, keyword) {
			score++
		}
	}
	return clampChili(score)
}

// stubEmbedding derives a fixed-dimension vector from the text hash. The
// same text always yields the same vector, so tests can assert exact output
// without network access.
func stubEmbedding(text string) []float64 {
	seed := sha256.Sum256([]byte(text))
	vector := make([]float64, stubEmbeddingDims)
	state := seed
	for i := 0; i < stubEmbeddingDims; i++ {
		if i%4 == 0 && i > 0 {
			state = sha256.Sum256(state[:])
		}
		raw := binary.BigEndian.Uint64(state[(i%4)*8 : (i%4)*8+8])
		// Map into [-1, 1).
		vector[i] = float64(int64(raw)) / float64(1<<63)
	}
	return vector
}

// stubWhyItMatters produces a deterministic one-line summary placeholder.
func stubWhyItMatters(title string, chili int) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "This story"
	}
	switch {
	case chili >= 4:
		return title + " describes a high-impact development worth immediate attention."
	case chili >= 2:
		return title + " covers a notable development in its area."
	default:
		return title + " is routine coverage with limited urgency."
	}
}

func clampChili(score int) int {
	if score < 0 {
		return 0
	}
	if score > 5 {
		return 5
	}
	return score
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

package analysis

import (
	"strings"
	"testing"
)

func TestStubChiliCountsDistinctKeywords(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"quarterly earnings in line with expectations", 0},
		{"breaking: regional outage reported", 2},
		{"breaking breaking breaking", 1},
		{"breaking urgent crisis scandal lawsuit outage breach", 5},
	}
	for _, tc := range cases {
		if got := stubChili(tc.text); got != tc.want {
			t.Errorf("stubChili(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestStubEmbeddingShape(t *testing.T) {
	vector := stubEmbedding("some story text")
	if len(vector) != stubEmbeddingDims {
		t.Fatalf("dims = %d, want %d", len(vector), stubEmbeddingDims)
	}
	for i, v := range vector {
		if v < -1 || v >= 1 {
			t.Fatalf("vector[%d] = %v outside [-1, 1)", i, v)
		}
	}
}

func TestStubEmbeddingIsDeterministic(t *testing.T) {
	a := stubEmbedding("same text")
	b := stubEmbedding("same text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vector diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}

	other := stubEmbedding("different text")
	same := true
	for i := range a {
		if a[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct texts produced identical vectors")
	}
}

func TestStubWhyItMattersTiers(t *testing.T) {
	if got := stubWhyItMatters("Grid failure", 5); !strings.Contains(got, "immediate attention") {
		t.Errorf("high tier = %q", got)
	}
	if got := stubWhyItMatters("New library branch", 0); !strings.Contains(got, "routine") {
		t.Errorf("low tier = %q", got)
	}
	if got := stubWhyItMatters("", 0); !strings.HasPrefix(got, "This story") {
		t.Errorf("empty title = %q", got)
	}
}

func TestClamps(t *testing.T) {
	if got := clampChili(-3); got != 0 {
		t.Errorf("clampChili(-3) = %d", got)
	}
	if got := clampChili(9); got != 5 {
		t.Errorf("clampChili(9) = %d", got)
	}
	if got := clampConfidence(-0.1); got != 0 {
		t.Errorf("clampConfidence(-0.1) = %v", got)
	}
	if got := clampConfidence(1.7); got != 1 {
		t.Errorf("clampConfidence(1.7) = %v", got)
	}
	if got := clampConfidence(0.42); got != 0.42 {
		t.Errorf("clampConfidence(0.42) = %v", got)
	}
}

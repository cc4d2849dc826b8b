package transcribe

import (
	"testing"
	"time"
)

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	q := NewQueue(Config{
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  300 * time.Second,
	}, nil, nil, nil)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{7, 300 * time.Second},
		{20, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := q.retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}

	// Monotone non-decreasing across attempts.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := q.retryDelay(attempt)
		if delay < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, delay, prev)
		}
		prev = delay
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxConcurrentJobs != 1 {
		t.Fatalf("MaxConcurrentJobs = %d, want 1", cfg.MaxConcurrentJobs)
	}
	if cfg.RetryBaseDelay != 5*time.Second {
		t.Fatalf("RetryBaseDelay = %s", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay != 300*time.Second {
		t.Fatalf("RetryMaxDelay = %s", cfg.RetryMaxDelay)
	}
}

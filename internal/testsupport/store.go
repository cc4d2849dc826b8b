package testsupport

import (
	"testing"

	"scoville/internal/config"
	"scoville/internal/logging"
	"scoville/internal/queue"
	"scoville/internal/store"
)

// MustOpenStore opens the SQLite store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustOpenQueue opens the durable queue over a test store without starting
// workers.
func MustOpenQueue(t testing.TB, st *store.Store, opts queue.Options) *queue.Queue {
	t.Helper()

	q, err := queue.New(st.DB(), logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	return q
}

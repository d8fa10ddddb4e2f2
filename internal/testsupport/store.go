package testsupport

import (
	"testing"

	"uploadq/internal/config"
	"uploadq/internal/queue"
)

// MustOpenStore opens a checkpoint queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

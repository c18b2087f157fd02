package testsupport

import (
	"testing"

	"atelier/internal/config"
	"atelier/internal/store"
)

// MustOpenDB opens the SQLite database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *store.DB {
	t.Helper()

	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

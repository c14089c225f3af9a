package testutil

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/meshtalk/histdb/history"
	"github.com/meshtalk/histdb/rawdb"
)

// NewTestDB creates a temporary database for testing. It is closed, and
// thereby drained, when the test completes.
func NewTestDB(t *testing.T) *rawdb.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := rawdb.Open(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// NewTestHistory creates a history engine over a temporary database with
// history enabled. The raw handle is returned alongside it so tests can
// assert on table contents directly.
func NewTestHistory(t *testing.T) (*history.History, *rawdb.DB) {
	t.Helper()

	db := NewTestDB(t)
	h, err := history.New(db, history.Options{Enabled: true})
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	return h, db
}

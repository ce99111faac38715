package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/event-checkin/internal/persistence/sqlite"
)

// SQLiteHarness provides an embedded-sql store backed by a temporary,
// migrated database file.
type SQLiteHarness struct {
	Store *sqlite.Storage
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a store in a temporary directory. Callers may
// optionally invoke Close, but the helper will also register a cleanup
// callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "checkin.db")
	storage, err := sqlite.Open(context.Background(), path, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: storage,
		Path:  path,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

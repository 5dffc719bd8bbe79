// Package sqlitetest opens throwaway databases for tests.
package sqlitetest

import (
	"database/sql"
	"testing"

	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite"
)

// OpenMemory opens a migrated in-memory database that is closed when the
// test ends.
func OpenMemory(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		tb.Fatalf("sqlitetest.OpenMemory: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

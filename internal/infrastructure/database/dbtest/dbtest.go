// Package dbtest opens migrated in-memory databases for package tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
	_ "github.com/nerrad567/pillfleet-core/migrations" // registers the schema
)

// Open returns an in-memory database with every migration applied.
// The database is closed when the test finishes.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        database.MemoryPath,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// Exec runs a fixture statement and fails the test on error.
func Exec(t testing.TB, db database.DBTX, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("fixture %q: %v", query, err)
	}
}

// Insert runs a fixture INSERT and returns the new row id.
func Insert(t testing.TB, db database.DBTX, query string, args ...any) int64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("fixture %q: %v", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("fixture %q: last insert id: %v", query, err)
	}
	return id
}

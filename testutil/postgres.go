package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/overtime-timer/backend/db"
)

// SetupTestDB connects to TEST_PG_DSN, migrates the schema and clears the kv table.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(db.Postgres, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database, db.Postgres); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM kv`); err != nil {
		_ = database.Close()
		t.Fatalf("failed to clear kv: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

// SetupSQLite opens a migrated SQLite database in a temp dir.
func SetupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Connect(db.SQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background(), database, db.SQLite); err != nil {
		_ = database.Close()
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

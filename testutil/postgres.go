package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/sahasrahbot/sglbot/db"
)

// SetupTestDB opens TEST_PG_DSN, applies the schema and empties the race tables.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	for _, table := range append([]string{"spoiler_races", "patch_distribution"}, db.RoomTables...) {
		if _, err := database.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			database.Close()
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/chatxp-bot/db"
)

// SetupTestDB connects to TEST_PG_DSN, applies the embedded schema and empties
// every table. It skips the test if TEST_PG_DSN is not set.
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
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`TRUNCATE users, donations, prize_lists, giveaways, giveaway_audit, oauth_tokens`); err != nil {
		database.Close()
		t.Fatalf("failed to truncate tables: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

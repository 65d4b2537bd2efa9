// Package main provides a CLI tool that seals plaintext OAuth tokens.
//
// Rows with encryption_version=0 are re-written through the token store with
// AES-256-GCM sealing (encryption_version=1). ENCRYPTION_KEY must be set.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/chatxp-bot/crypto"
	"github.com/onnwee/chatxp-bot/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate tokens for one provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	sealer, err := crypto.NewAESSealer(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("ENCRYPTION_KEY invalid or missing", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	n, err := migrateTokens(ctx, database, sealer, *dryRun, *provider)
	if err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully", slog.Int("migrated", n), slog.Bool("dry_run", *dryRun))
}

// migrateTokens seals every plaintext token and returns how many were (or,
// in dry-run mode, would be) migrated.
func migrateTokens(ctx context.Context, database *sql.DB, sealer crypto.Sealer, dryRun bool, providerFilter string) (int, error) {
	query := `SELECT provider FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0`
	var args []any
	if providerFilter != "" {
		query += " AND provider = $1"
		args = append(args, providerFilter)
	}
	query += " ORDER BY provider"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to query plaintext tokens: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan token row: %w", err)
		}
		providers = append(providers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating token rows: %w", err)
	}

	if len(providers) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return 0, nil
	}
	slog.Info("found plaintext tokens to migrate", slog.Int("count", len(providers)), slog.Bool("dry_run", dryRun))
	if dryRun {
		for _, p := range providers {
			slog.Info("would migrate token (dry-run)", slog.String("provider", p))
		}
		return len(providers), nil
	}

	// Reads use a store without a sealer so plaintext rows come back as-is.
	plain := &db.TokenStore{DB: database}
	sealed := &db.TokenStore{DB: database, Sealer: sealer}
	errorCount := 0
	for _, p := range providers {
		logger := slog.With(slog.String("provider", p))
		tok, err := plain.GetOAuthToken(ctx, p)
		if err == nil {
			err = sealed.UpsertOAuthToken(ctx, tok)
		}
		if err != nil {
			logger.Error("failed to migrate token", slog.Any("error", err))
			errorCount++
			continue
		}
		logger.Info("migrated token successfully")
	}
	if errorCount > 0 {
		return len(providers) - errorCount, fmt.Errorf("migration completed with %d errors", errorCount)
	}
	return len(providers), nil
}

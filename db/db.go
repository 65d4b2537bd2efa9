// Package db provides the Postgres connection, schema migration, the state
// snapshot store, the background flusher and the giveaway audit log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chatxp-bot/crypto"
)

// Connect opens a Postgres pool for dsn. The connection is not verified; call
// PingContext when readiness matters.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrate applies the embedded up migrations directly without the
// golang-migrate version table. Every statement is idempotent, which makes this
// suitable for tests and throwaway databases; production uses RunMigrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for i, stmt := range splitStatements(string(body)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("postgres migrate %s step %d failed: %w", name, i, err)
			}
		}
	}
	return nil
}

// splitStatements splits a migration file on semicolons. The migrations hold no
// function bodies or string literals containing ';'.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Token is a stored OAuth credential.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore persists OAuth tokens in oauth_tokens. When Sealer is set tokens
// are encrypted at rest (encryption_version=1); plaintext rows
// (encryption_version=0) remain readable.
type TokenStore struct {
	DB     *sql.DB
	Sealer crypto.Sealer
}

// UpsertOAuthToken stores or replaces the token for provider.
func (s *TokenStore) UpsertOAuthToken(ctx context.Context, t Token) error {
	encVersion := 0
	access, refresh := t.AccessToken, t.RefreshToken
	if s.Sealer != nil {
		encVersion = 1
		var err error
		if access, err = s.Sealer.Seal(t.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = s.Sealer.Seal(t.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	if _, err := s.DB.ExecContext(ctx, q, t.Provider, access, refresh, t.Expiry, t.Scope, encVersion); err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// GetOAuthToken returns the stored token for provider. A missing row yields a
// zero Token and no error.
func (s *TokenStore) GetOAuthToken(ctx context.Context, provider string) (Token, error) {
	var (
		t          = Token{Provider: provider}
		access     sql.NullString
		refresh    sql.NullString
		expiry     sql.NullTime
		scope      sql.NullString
		encVersion int
	)
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err := row.Scan(&access, &refresh, &expiry, &scope, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("get oauth token: %w", err)
	}
	t.AccessToken, t.RefreshToken, t.Scope = access.String, refresh.String, scope.String
	if expiry.Valid {
		t.Expiry = expiry.Time
	}

	if encVersion == 1 {
		if s.Sealer == nil {
			return Token{}, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if t.AccessToken, err = s.Sealer.Open(t.AccessToken); err != nil {
			return Token{}, fmt.Errorf("decrypt access token: %w", err)
		}
		if t.RefreshToken, err = s.Sealer.Open(t.RefreshToken); err != nil {
			return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return t, nil
}

// LogTokenMode records at startup whether tokens will be sealed.
func (s *TokenStore) LogTokenMode() {
	if s.Sealer == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
		return
	}
	slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
}

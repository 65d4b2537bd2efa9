package main

import (
	"context"
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/crypto"
)

type sealedArg struct{ plain string }

func (s sealedArg) Match(v driver.Value) bool {
	str, ok := v.(string)
	return ok && str != "" && str != s.plain
}

func newSealer(t *testing.T) *crypto.AESSealer {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	s, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(k))
	require.NoError(t, err)
	return s
}

func TestMigrateTokensSealsPlaintextRows(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	exp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM oauth_tokens WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"provider"}).AddRow("twitch"))
	mock.ExpectQuery("SELECT access_token").WithArgs("twitch").
		WillReturnRows(sqlmock.NewRows([]string{"access_token", "refresh_token", "expires_at", "scope", "encryption_version"}).
			AddRow("plain-access", "plain-refresh", exp, "chat:read", int64(0)))
	mock.ExpectExec("INSERT INTO oauth_tokens").
		WithArgs("twitch", sealedArg{"plain-access"}, sealedArg{"plain-refresh"}, exp, "chat:read", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := migrateTokens(context.Background(), database, newSealer(t), false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateTokensDryRunWritesNothing(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectQuery("AND provider = ").WithArgs("twitch").
		WillReturnRows(sqlmock.NewRows([]string{"provider"}).AddRow("twitch"))

	n, err := migrateTokens(context.Background(), database, newSealer(t), true, "twitch")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateTokensNothingToDo(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectQuery("FROM oauth_tokens").WillReturnRows(sqlmock.NewRows([]string{"provider"}))
	n, err := migrateTokens(context.Background(), database, newSealer(t), false, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

package main

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/db"
)

func TestRunRejectsBadUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"sideways"}, {"up", "extra"}} {
		err := run(args, &bytes.Buffer{})
		assert.True(t, errors.Is(err, errUsage), "args %v: %v", args, err)
	}
}

func TestRunRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	assert.ErrorContains(t, run([]string{"version"}, &bytes.Buffer{}), "DB_DSN")
}

func TestApplyUpReportsVersion(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	require.NoError(t, err)
	defer database.Close()

	var out bytes.Buffer
	require.NoError(t, apply(database, "up", "", &out))
	assert.Equal(t, "version=1 dirty=false\n", out.String())

	out.Reset()
	require.NoError(t, apply(database, "version", "", &out))
	assert.Equal(t, "version=1 dirty=false\n", out.String())
}

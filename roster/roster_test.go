package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.txt")

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Members())

	require.NoError(t, s.Add("  Alice "))
	require.NoError(t, s.Add("@Bob"))
	assert.True(t, s.Contains("ALICE"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"@bob", "alice"}, reopened.Members())

	removed, err := reopened.Remove("alice")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = reopened.Remove("alice")
	require.NoError(t, err)
	assert.False(t, removed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "@bob\n", string(raw))
}

func TestSetRejectsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "x.txt"))
	require.NoError(t, err)
	assert.Error(t, s.Add("   "))
}

func TestDirLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vip.txt"), []byte("Alice\n\n bob carol\n"), 0o600))

	d := Dir{Path: dir}
	members, err := d.Load("vip")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, members)

	_, err = d.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.Load("../vip")
	assert.ErrorIs(t, err, ErrNotFound)
}

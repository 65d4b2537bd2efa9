package db_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/crypto"
	"github.com/onnwee/chatxp-bot/db"
	"github.com/onnwee/chatxp-bot/giveaway"
	"github.com/onnwee/chatxp-bot/prize"
	"github.com/onnwee/chatxp-bot/testutil"
	"github.com/onnwee/chatxp-bot/xp"
)

func TestPostgresSnapshotRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := db.NewStore(database)

	created := time.Now().UTC().Truncate(time.Second)
	end := created.Add(10 * time.Minute)
	snap := db.Snapshot{
		Accounts:  []xp.Account{{Key: "alice", Name: "Alice", XP: 200, Level: 2}},
		Donations: map[string]int64{"alice": 750},
		PrizeLists: []prize.List{
			{Name: "loot", Items: []string{"Hat", "Mug"}, Version: 2},
		},
		Giveaways: []giveaway.Giveaway{{
			ID:         uuid.New(),
			Name:       "Foam",
			EntryCmd:   "!foam",
			Creator:    "boss",
			CreatedAt:  created,
			EndAt:      &end,
			PrizeList:  "loot",
			NumWinners: 1,
			MinLevel:   1,
			Entrants:   []giveaway.Entrant{{Key: "alice", Name: "Alice", EnteredAt: created}},
			Status:     giveaway.StatusActive,
			WarnedFor:  []int{5},
		}},
	}
	require.NoError(t, store.Save(ctx, snap))

	// an older prize list version must not overwrite the stored one
	stale := snap
	stale.PrizeLists = []prize.List{{Name: "loot", Items: []string{"Old"}, Version: 1}}
	require.NoError(t, store.Save(ctx, stale))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Accounts, got.Accounts)
	assert.Equal(t, snap.Donations, got.Donations)
	assert.Equal(t, snap.PrizeLists, got.PrizeLists)
	require.Len(t, got.Giveaways, 1)
	g := got.Giveaways[0]
	assert.Equal(t, snap.Giveaways[0].ID, g.ID)
	assert.Equal(t, "Foam", g.Name)
	assert.True(t, end.Equal(*g.EndAt))
	assert.Nil(t, g.EndedAt)
	assert.Equal(t, []int{5}, g.WarnedFor)
	require.Len(t, g.Entrants, 1)
	assert.Equal(t, "Alice", g.Entrants[0].Name)
}

func TestPostgresSealedTokenRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	ts := &db.TokenStore{DB: database, Sealer: sealer}
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, ts.UpsertOAuthToken(ctx, db.Token{Provider: "twitch", AccessToken: "acc", RefreshToken: "ref", Expiry: exp, Scope: "chat:read"}))

	var stored string
	require.NoError(t, database.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE provider='twitch'`).Scan(&stored))
	assert.NotEqual(t, "acc", stored)

	got, err := ts.GetOAuthToken(ctx, "twitch")
	require.NoError(t, err)
	assert.Equal(t, "acc", got.AccessToken)
	assert.Equal(t, "ref", got.RefreshToken)
	assert.True(t, exp.Equal(got.Expiry))
}

func TestPostgresAuditLog(t *testing.T) {
	database := testutil.SetupTestDB(t)
	audit := db.NewAuditLog(database, 8)
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	audit.Record(ctx, id, "!foam", "created", "Foam")
	audit.Record(ctx, id, "!foam", "ended", "winners=1")
	cancel()
	audit.Run(ctx)

	entries, err := audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, id, e.GiveawayID)
	}
}

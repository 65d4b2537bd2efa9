package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"plain chat", "hello there", nil},
		{"bare bang", "!", nil},
		{"add admin", "!addadmin @Mod", AddAdmin{Target: "@mod"}},
		{"remove admin", "!REMOVEADMIN @mod", RemoveAdmin{Target: "@mod"}},
		{"blacklist", "!blacklist 0xABC", Blacklist{Target: "0xabc"}},
		{"kill alias", "!kill @spam", Blacklist{Target: "@spam"}},
		{"quit", "!quit", Quit{}},
		{"exit", "!exit now", Quit{}},
		{"shutdown", "!shutdown", Quit{}},
		{"rank", "!rank", Rank{}},
		{"level alias", "!Level", Rank{}},
		{"timeleft", "!timeleft !Join", TimeLeft{Entry: "!join"}},
		{"winners", "!winners !join", Winners{Entry: "!join"}},
		{"entry", "!Join please", Enter{Entry: "!join"}},
		{"end now", "!endgiveaway !join", EndGiveaway{Entry: "!join"}},
		{"end in", "!endgiveaway !join 30", EndGiveaway{Entry: "!join", Seconds: ptrI(30)}},
		{"end garbage seconds", "!endgiveaway !join soon", EndGiveaway{Entry: "!join"}},
		{"end at max seconds", "!endgiveaway !join 604800", EndGiveaway{Entry: "!join", Seconds: ptrI(MaxEndSeconds)}},
		{"end overflowing seconds", "!endgiveaway !join 99999999999999999999", EndGiveaway{Entry: "!join"}},
		{"cancel", "!cancelgiveaway !join", CancelGiveaway{Entry: "!join"}},
		{"prize list", "!createprizelist loot, Hat , , Mug", CreatePrizeList{Name: "loot", Items: []string{"Hat", "Mug"}}},
		{"empty prize list", "!createprizelist loot", CreatePrizeList{Name: "loot", Items: []string{}}},
		{"giveaway minimal", "!creategiveaway, Foam, !Foam", CreateGiveaway{Name: "Foam", EntryCmd: "!foam", NumWinners: 1, MinLevel: 1}},
		{
			"giveaway full",
			"!creategiveaway, Foam Drop, !foam, 1.5, vips, loot, 3, 2",
			CreateGiveaway{Name: "Foam Drop", EntryCmd: "!foam", Minutes: ptrF(1.5), Whitelist: "vips", PrizeList: "loot", NumWinners: 3, MinLevel: 2},
		},
		{
			"giveaway max minutes",
			"!creategiveaway, Foam, !foam, 10080",
			CreateGiveaway{Name: "Foam", EntryCmd: "!foam", Minutes: ptrF(MaxGiveawayMinutes), NumWinners: 1, MinLevel: 1},
		},
		{
			"giveaway nones",
			"!creategiveaway Foam, !foam, none, NONE, none, none, none",
			CreateGiveaway{Name: "Foam", EntryCmd: "!foam", NumWinners: 1, MinLevel: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUsageErrors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"!addadmin", UsageAddAdmin},
		{"!removeadmin", UsageRemoveAdmin},
		{"!blacklist", UsageBlacklist},
		{"!createprizelist", UsageCreatePrizeList},
		{"!creategiveaway", UsageCreateGiveaway},
		{"!creategiveaway, Foam", UsageCreateGiveaway},
		{"!endgiveaway", UsageEndGiveaway},
		{"!cancelgiveaway", UsageCancelGiveaway},
		{"!timeleft", UsageTimeLeft},
		{"!winners", UsageWinners},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			assert.Nil(t, got)
			var ue *UsageError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.want, ue.Usage)
		})
	}

	for _, in := range []string{
		"!creategiveaway, Foam, !foam, soon",
		"!creategiveaway, Foam, !foam, -2",
		"!creategiveaway, Foam, !foam, 1, none, none, zero",
		"!creategiveaway, Foam, !foam, 1, none, none, 1, 0",
		"!creategiveaway, Foam, !foam, 1e-12",
		"!creategiveaway, Foam, !foam, inf",
		"!creategiveaway, Foam, !foam, -Inf",
		"!creategiveaway, Foam, !foam, NaN",
		"!creategiveaway, Foam, !foam, 1e300",
		"!creategiveaway, Foam, !foam, 10081",
		"!endgiveaway !join 604801",
		"!endgiveaway !join 9999999999",
	} {
		_, err := Parse(in)
		var ue *UsageError
		assert.True(t, errors.As(err, &ue), in)
	}
}

func TestAdminOnly(t *testing.T) {
	admin := []Command{AddAdmin{}, RemoveAdmin{}, Blacklist{}, CreatePrizeList{}, CreateGiveaway{}, EndGiveaway{}, CancelGiveaway{}, Quit{}}
	for _, c := range admin {
		assert.True(t, c.AdminOnly(), "%T", c)
	}
	user := []Command{Rank{}, TimeLeft{}, Winners{}, Enter{}}
	for _, c := range user {
		assert.False(t, c.AdminOnly(), "%T", c)
	}
}

func TestUsageErrorMarksAdminCommands(t *testing.T) {
	_, err := Parse("!creategiveaway")
	var ue *UsageError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.AdminOnly)

	_, err = Parse("!timeleft")
	require.True(t, errors.As(err, &ue))
	assert.False(t, ue.AdminOnly)
}

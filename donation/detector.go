// Package donation recognizes pinned donation messages, credits the donor with
// bonus XP, keeps cumulative totals and picks a sound cue for the amount.
package donation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/onnwee/chatxp-bot/telemetry"
	"github.com/onnwee/chatxp-bot/xp"
)

// MaxAmount is the largest donation Parse accepts.
const MaxAmount int64 = 1_000_000_000

// Event is the subset of an inbound chat event the detector looks at.
type Event struct {
	UserKey  string
	UserName string
	Text     string
	IsPinned bool
}

// Donation is a parsed donation message.
type Donation struct {
	UserKey string
	Amount  int64
	Token   string
}

// Sound pairs a minimum amount with a sound reference.
type Sound struct {
	MinAmount int64
	Ref       string
}

// SoundTable is ordered ascending by MinAmount.
type SoundTable []Sound

// ParseSoundTable parses "100:wow.mp3,500:nice.mp3" into an ascending table.
func ParseSoundTable(raw string) (SoundTable, error) {
	var table SoundTable
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		amount, ref, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(ref) == "" {
			return nil, fmt.Errorf("sound entry %q: want <amount>:<file>", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("sound entry %q: bad amount", part)
		}
		table = append(table, Sound{MinAmount: n, Ref: strings.TrimSpace(ref)})
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].MinAmount < table[j].MinAmount })
	return table, nil
}

// Select returns the sound with the largest MinAmount <= amount.
func (t SoundTable) Select(amount int64) (string, bool) {
	i := sort.Search(len(t), func(i int) bool { return t[i].MinAmount > amount })
	if i == 0 {
		return "", false
	}
	return t[i-1].Ref, true
}

// Ledger is the XP sink for donations.
type Ledger interface {
	GrantDonationXP(key, name string, amount int64) (*xp.LevelUp, error)
}

// Player plays a sound reference, fire-and-forget.
type Player interface {
	Play(ref string)
}

// Detector turns pinned donation messages into XP, totals and sounds.
type Detector struct {
	token  string
	sounds SoundTable
	ledger Ledger
	player Player

	mu     sync.Mutex
	totals map[string]int64

	onChange func()
}

// NewDetector builds a detector for messages like "tipped 500 <token>".
func NewDetector(token string, sounds SoundTable, ledger Ledger, player Player, onChange func()) *Detector {
	return &Detector{
		token:    strings.ToLower(token),
		sounds:   sounds,
		ledger:   ledger,
		player:   player,
		totals:   make(map[string]int64),
		onChange: onChange,
	}
}

// Parse recognizes a donation. Non-pinned messages and unparseable,
// non-positive or above-MaxAmount amounts are rejected.
func (d *Detector) Parse(ev Event) (Donation, bool) {
	if !ev.IsPinned {
		return Donation{}, false
	}
	lower := strings.ToLower(strings.TrimSpace(ev.Text))
	if !strings.HasPrefix(lower, "tipped ") {
		return Donation{}, false
	}
	fields := strings.Fields(lower)
	if len(fields) < 3 || !containsToken(fields[2:], d.token) {
		return Donation{}, false
	}
	amount, err := strconv.ParseInt(strings.ReplaceAll(fields[1], ",", ""), 10, 64)
	if err != nil || amount <= 0 || amount > MaxAmount {
		return Donation{}, false
	}
	return Donation{UserKey: xp.NormalizeKey(ev.UserKey), Amount: amount, Token: d.token}, true
}

func containsToken(fields []string, token string) bool {
	for _, f := range fields {
		if strings.TrimRight(f, ".,!?") == token {
			return true
		}
	}
	return false
}

// Handle processes ev if it is a donation. It reports whether it was one and
// returns the resulting level-up, if any.
func (d *Detector) Handle(ctx context.Context, ev Event) (*xp.LevelUp, bool, error) {
	don, ok := d.Parse(ev)
	if !ok {
		return nil, false, nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "donation"))

	up, err := d.ledger.GrantDonationXP(don.UserKey, ev.UserName, don.Amount)
	if err != nil {
		return nil, true, fmt.Errorf("grant donation xp: %w", err)
	}

	d.mu.Lock()
	d.totals[don.UserKey] = xp.SaturatingAdd(d.totals[don.UserKey], don.Amount)
	total := d.totals[don.UserKey]
	d.mu.Unlock()
	if d.onChange != nil {
		d.onChange()
	}

	telemetry.Inc(telemetry.Donations)
	telemetry.Add(telemetry.DonatedAmount, float64(don.Amount))
	telemetry.AddLabel(telemetry.XPGranted, "donation", float64(don.Amount))
	logger.Info("donation detected", slog.String("user", don.UserKey), slog.Int64("amount", don.Amount), slog.Int64("total", total))

	if ref, ok := d.sounds.Select(don.Amount); ok && d.player != nil {
		d.player.Play(ref)
	}
	return up, true, nil
}

// Total returns a user's cumulative donations.
func (d *Detector) Total(key string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals[xp.NormalizeKey(key)]
}

// Totals copies the donation records.
func (d *Detector) Totals() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.totals))
	for k, v := range d.totals {
		out[k] = v
	}
	return out
}

// Restore replaces the donation records.
func (d *Detector) Restore(totals map[string]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totals = make(map[string]int64, len(totals))
	for k, v := range totals {
		d.totals[xp.NormalizeKey(k)] = v
	}
}

// Package xp holds the experience ledger: per-user XP, derived level and the
// chat-XP throttle. The Ledger is the only writer of account state.
package xp

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// ChatCooldown is the minimum spacing between two chat XP grants for one user.
const ChatCooldown = time.Second

// ErrInvalidAmount is returned for non-positive donation grants.
var ErrInvalidAmount = errors.New("xp amount must be positive")

// Account is a single user's ledger row.
type Account struct {
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	XP            int64     `json:"xp"`
	Level         int       `json:"level"`
	LastChatGrant time.Time `json:"-"`
}

// DisplayName prefers the chat display name and falls back to the key.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Key
}

// LevelUp is emitted once per grant that raised an account's level.
type LevelUp struct {
	Key   string
	Name  string
	Level int
}

// Rank is the read-only view returned by QueryRank.
type Rank struct {
	Name        string
	Level       int
	XP          int64
	XPIntoLevel int64
	XPForNext   int64
	Position    int
}

// Threshold is the XP needed to go from level l to l+1.
func Threshold(l int) int64 {
	n := int64(l)
	return 5*n*n + 50*n + 100
}

// CumulativeXP is the total XP at which level l is reached (level 1 starts at 0).
func CumulativeXP(l int) int64 {
	var total int64
	for i := 1; i < l; i++ {
		total += Threshold(i)
	}
	return total
}

// LevelFor returns the largest level whose cumulative threshold is <= xp.
func LevelFor(xp int64) int {
	level := 1
	next := Threshold(1)
	for xp >= next {
		level++
		t := Threshold(level)
		if next > math.MaxInt64-t {
			// the following threshold is past any int64 total
			break
		}
		next += t
	}
	return level
}

// SaturatingAdd returns a+b for non-negative b, clamped at math.MaxInt64.
func SaturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// NormalizeKey lower-cases and trims a user key.
func NormalizeKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

// Ledger tracks accounts. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	onChange func()
}

// NewLedger returns an empty ledger. onChange (optional) is called after every
// successful mutation, outside the ledger lock.
func NewLedger(onChange func()) *Ledger {
	return &Ledger{accounts: make(map[string]*Account), onChange: onChange}
}

func (l *Ledger) account(key, name string) *Account {
	acc, ok := l.accounts[key]
	if !ok {
		acc = &Account{Key: key, Name: name, Level: 1}
		l.accounts[key] = acc
	} else if name != "" && name != acc.Name {
		acc.Name = name
	}
	return acc
}

// add must be called with mu held.
func (l *Ledger) add(acc *Account, amount int64) *LevelUp {
	acc.XP = SaturatingAdd(acc.XP, amount)
	newLevel := LevelFor(acc.XP)
	if newLevel <= acc.Level {
		return nil
	}
	acc.Level = newLevel
	return &LevelUp{Key: acc.Key, Name: acc.DisplayName(), Level: newLevel}
}

func (l *Ledger) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}

// GrantChatXP grants one XP unless the user's previous grant was less than
// ChatCooldown before ts. The second return reports whether XP was granted.
func (l *Ledger) GrantChatXP(key, name string, ts time.Time) (*LevelUp, bool) {
	key = NormalizeKey(key)
	l.mu.Lock()
	acc := l.account(key, name)
	if !acc.LastChatGrant.IsZero() && ts.Sub(acc.LastChatGrant) < ChatCooldown {
		l.mu.Unlock()
		return nil, false
	}
	acc.LastChatGrant = ts
	up := l.add(acc, 1)
	l.mu.Unlock()
	l.changed()
	return up, true
}

// GrantDonationXP adds amount XP with no cooldown.
func (l *Ledger) GrantDonationXP(key, name string, amount int64) (*LevelUp, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	key = NormalizeKey(key)
	l.mu.Lock()
	up := l.add(l.account(key, name), amount)
	l.mu.Unlock()
	l.changed()
	return up, nil
}

// Level returns the user's level; unknown users are level 1.
func (l *Ledger) Level(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[NormalizeKey(key)]; ok {
		return acc.Level
	}
	return 1
}

// QueryRank reports level progress and leaderboard position without mutating anything.
func (l *Ledger) QueryRank(key string) Rank {
	key = NormalizeKey(key)
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[key]
	if !ok {
		return Rank{Name: key, Level: 1, XPForNext: Threshold(1), Position: len(l.accounts) + 1}
	}
	position := 1
	for _, other := range l.accounts {
		if other.XP > acc.XP {
			position++
		}
	}
	return Rank{
		Name:        acc.DisplayName(),
		Level:       acc.Level,
		XP:          acc.XP,
		XPIntoLevel: acc.XP - CumulativeXP(acc.Level),
		XPForNext:   Threshold(acc.Level),
		Position:    position,
	}
}

// Top returns up to n accounts ordered by XP descending, then key.
func (l *Ledger) Top(n int) []Account {
	all := l.Snapshot()
	sort.Slice(all, func(i, j int) bool {
		if all[i].XP != all[j].XP {
			return all[i].XP > all[j].XP
		}
		return all[i].Key < all[j].Key
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Snapshot returns a copy of every account.
func (l *Ledger) Snapshot() []Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, *acc)
	}
	return out
}

// Restore replaces the ledger contents. Levels are recomputed from XP so a
// stale stored level can never disagree with the formula.
func (l *Ledger) Restore(accounts []Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[string]*Account, len(accounts))
	for _, a := range accounts {
		a := a
		a.Key = NormalizeKey(a.Key)
		if a.XP < 0 {
			a.XP = 0
		}
		a.Level = LevelFor(a.XP)
		a.LastChatGrant = time.Time{}
		l.accounts[a.Key] = &a
	}
}

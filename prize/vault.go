// Package prize implements the prize vault: named pools of items consumed by
// destructive random draws. Each list carries a version that increases on every
// mutation so the store can refuse to overwrite newer rows with older ones.
package prize

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound    = errors.New("prize list not found")
	ErrEmptyList   = errors.New("prize list is empty")
	ErrInvalidName = errors.New("invalid prize list name")
)

// MaxNameLen is the longest accepted list name.
const MaxNameLen = 15

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// ValidName reports whether name is usable as a list name (and as a file name on any platform).
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	if unsafeNameChars.MatchString(name) || strings.Contains(name, "..") {
		return false
	}
	last := name[len(name)-1]
	return last != '.' && last != ' '
}

// List is a snapshot of one named pool.
type List struct {
	Name    string   `json:"name"`
	Items   []string `json:"items"`
	Version int64    `json:"version"`
}

type pool struct {
	mu      sync.Mutex
	items   []string
	version int64
}

// Vault holds every prize list.
type Vault struct {
	mu    sync.RWMutex
	lists map[string]*pool

	rngMu sync.Mutex
	rng   *rand.Rand

	onChange func()
}

// NewVault returns an empty vault seeded from crypto/rand. onChange (optional)
// is called after each mutation.
func NewVault(onChange func()) *Vault {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return NewVaultWithRand(rand.New(rand.NewChaCha8(seed)), onChange)
}

// NewVaultWithRand is NewVault with an explicit random source.
func NewVaultWithRand(rng *rand.Rand, onChange func()) *Vault {
	return &Vault{lists: make(map[string]*pool), rng: rng, onChange: onChange}
}

func (v *Vault) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}

func (v *Vault) intn(n int) int {
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.rng.IntN(n)
}

// CreateList creates or overwrites the named list. Blank items are dropped.
func (v *Vault) CreateList(name string, items []string) (int, error) {
	if !ValidName(name) {
		return 0, fmt.Errorf("%w: %q must be 1-%d chars without path or reserved characters", ErrInvalidName, name, MaxNameLen)
	}
	cleaned := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			cleaned = append(cleaned, it)
		}
	}

	v.mu.Lock()
	p, ok := v.lists[name]
	if !ok {
		p = &pool{}
		v.lists[name] = p
	}
	v.mu.Unlock()

	p.mu.Lock()
	p.items = cleaned
	p.version++
	p.mu.Unlock()
	v.changed()
	return len(cleaned), nil
}

// Exists reports whether a list with this name was created.
func (v *Vault) Exists(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.lists[name]
	return ok
}

// Remaining returns the number of undrawn items.
func (v *Vault) Remaining(name string) (int, error) {
	v.mu.RLock()
	p, ok := v.lists[name]
	v.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items), nil
}

// DrawOne removes and returns a uniformly random item. Draws on one list are serialized.
func (v *Vault) DrawOne(name string) (string, error) {
	v.mu.RLock()
	p, ok := v.lists[name]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrEmptyList, name)
	}
	i := v.intn(len(p.items))
	item := p.items[i]
	p.items = append(p.items[:i:i], p.items[i+1:]...)
	p.version++
	p.mu.Unlock()

	v.changed()
	return item, nil
}

// Snapshot copies every list, sorted by name.
func (v *Vault) Snapshot() []List {
	v.mu.RLock()
	names := make([]string, 0, len(v.lists))
	pools := make(map[string]*pool, len(v.lists))
	for n, p := range v.lists {
		names = append(names, n)
		pools[n] = p
	}
	v.mu.RUnlock()
	sort.Strings(names)

	out := make([]List, 0, len(names))
	for _, n := range names {
		p := pools[n]
		p.mu.Lock()
		out = append(out, List{Name: n, Items: append([]string(nil), p.items...), Version: p.version})
		p.mu.Unlock()
	}
	return out
}

// Restore replaces the vault contents.
func (v *Vault) Restore(lists []List) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lists = make(map[string]*pool, len(lists))
	for _, l := range lists {
		v.lists[l.Name] = &pool{items: append([]string(nil), l.Items...), version: l.Version}
	}
}

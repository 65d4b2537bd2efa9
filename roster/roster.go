// Package roster manages the small text-file backed user sets: admins, the
// blacklist and named whitelists. One lower-cased entry per line.
package roster

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/chatxp-bot/prize"
)

// ErrNotFound is returned when a named whitelist file does not exist.
var ErrNotFound = errors.New("whitelist not found")

// Set is a persisted set of user keys. Safe for concurrent use.
type Set struct {
	path string

	mu      sync.RWMutex
	members map[string]struct{}
}

// Open loads path if it exists; a missing file yields an empty set.
func Open(path string) (*Set, error) {
	s := &Set{path: path, members: make(map[string]struct{})}
	entries, err := readLines(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		s.members[e] = struct{}{}
	}
	return s, nil
}

// Contains reports membership (case-insensitive).
func (s *Set) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[normalize(key)]
	return ok
}

// Add inserts key and saves the file.
func (s *Set) Add(key string) error {
	key = normalize(key)
	if key == "" {
		return fmt.Errorf("empty roster entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[key] = struct{}{}
	return s.saveLocked()
}

// Remove deletes key and saves the file. It reports whether key was present.
func (s *Set) Remove(key string) (bool, error) {
	key = normalize(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[key]; !ok {
		return false, nil
	}
	delete(s.members, key)
	return true, s.saveLocked()
}

// Members returns the sorted entries.
func (s *Set) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Set) saveLocked() error {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return writeLines(s.path, out)
}

// Dir resolves named whitelists stored as <dir>/<name>.txt.
type Dir struct {
	Path string
}

// Load returns the members of a whitelist. The name must be a safe list name.
func (d Dir) Load(name string) ([]string, error) {
	if !prize.ValidName(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	lines, err := readLines(filepath.Join(d.Path, name+".txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return lines, err
}

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from configuration or a validated list name
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, field := range strings.Fields(sc.Text()) {
			if v := normalize(field); v != "" {
				out = append(out, v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// writeLines replaces path atomically via a temp file and rename.
func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		_, _ = w.WriteString(l)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

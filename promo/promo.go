// Package promo posts canned promotional lines to chat on a fixed interval.
package promo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Notifier enqueues a chat message.
type Notifier interface {
	Enqueue(text string)
}

// Load reads one promotion per non-blank line. A missing file yields no
// promotions and no error.
func Load(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-controlled data path
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open promotions: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read promotions: %w", err)
	}
	return out, nil
}

// Poster cycles through its lines round-robin.
type Poster struct {
	lines    []string
	interval time.Duration
	out      Notifier
	next     int
}

// NewPoster returns a poster; it posts nothing when lines is empty.
func NewPoster(lines []string, interval time.Duration, out Notifier) *Poster {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Poster{lines: lines, interval: interval, out: out}
}

// Post enqueues the next promotion. It reports false when there are none.
func (p *Poster) Post() bool {
	if len(p.lines) == 0 {
		return false
	}
	p.out.Enqueue(p.lines[p.next])
	p.next = (p.next + 1) % len(p.lines)
	return true
}

// Run posts immediately and then once per interval until ctx is cancelled.
func (p *Poster) Run(ctx context.Context) {
	if len(p.lines) == 0 {
		slog.Info("no promotions loaded, poster idle", slog.String("component", "promo"))
		return
	}
	slog.Info("promotions enabled", slog.Int("count", len(p.lines)),
		slog.Duration("interval", p.interval), slog.String("component", "promo"))
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.Post()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

package db

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatxp-bot/telemetry"
)

// Saver persists a snapshot. *Store implements it.
type Saver interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Flusher writes state snapshots off the hot path. Mutations call Request,
// which never blocks; Run coalesces requests into single writes and retries
// failed writes on every tick until one succeeds.
type Flusher struct {
	snapshot func() Snapshot
	saver    Saver
	interval time.Duration
	timeout  time.Duration

	closeAttempts int
	closeBackoff  time.Duration

	requests chan struct{}
	dirty    atomic.Bool

	mu        sync.Mutex
	lastFlush time.Time
	lastErr   error
}

// NewFlusher returns a flusher that takes snapshots with snapshot and writes
// them with saver. interval is the retry and periodic-flush cadence.
func NewFlusher(snapshot func() Snapshot, saver Saver, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Flusher{
		snapshot: snapshot,
		saver:    saver,
		interval: interval,
		timeout:  30 * time.Second,
		requests: make(chan struct{}, 1),

		closeAttempts: 3,
		closeBackoff:  500 * time.Millisecond,
	}
}

// Request marks state dirty and wakes Run.
func (f *Flusher) Request() {
	f.dirty.Store(true)
	select {
	case f.requests <- struct{}{}:
	default:
	}
}

// Run flushes on request and on each tick while dirty, until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.requests:
			_ = f.flushIfDirty(ctx)
		case <-t.C:
			_ = f.flushIfDirty(ctx)
		}
	}
}

// Flush writes a snapshot now regardless of the dirty flag.
func (f *Flusher) Flush(ctx context.Context) error {
	f.dirty.Store(true)
	return f.flushIfDirty(ctx)
}

// Close performs the final synchronous flush on shutdown, retrying a failed
// write a few times with a growing pause until ctx is done. ctx should not be
// the already-cancelled run context.
func (f *Flusher) Close(ctx context.Context) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = f.Flush(ctx); err == nil {
			return nil
		}
		if attempt >= f.closeAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * f.closeBackoff):
		}
	}
}

// Status reports the time of the last successful flush and the last error.
func (f *Flusher) Status() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFlush, f.lastErr
}

func (f *Flusher) flushIfDirty(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Clear before snapshotting so a mutation racing the write re-marks dirty.
	if !f.dirty.Swap(false) {
		return nil
	}
	snap := f.snapshot()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "state.flush",
		attribute.Int("users", len(snap.Accounts)),
		attribute.Int("giveaways", len(snap.Giveaways)),
		attribute.Int("prize_lists", len(snap.PrizeLists)))

	var err error
	telemetry.TimeFunc(telemetry.FlushDuration, func() { err = f.saver.Save(ctx, snap) })
	telemetry.EndSpan(span, err)
	if err != nil {
		f.dirty.Store(true)
		f.lastErr = err
		telemetry.Inc(telemetry.FlushFailures)
		slog.Warn("state flush failed, will retry", slog.Any("err", err), slog.String("component", "flusher"))
		return err
	}
	f.lastFlush = time.Now()
	f.lastErr = nil
	slog.Debug("state flushed", slog.Int("users", len(snap.Accounts)), slog.String("component", "flusher"))
	return nil
}

package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/xp"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []Snapshot
	fail  int
}

func (f *fakeSaver) Save(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("db down")
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func snapshotOf(n *int) func() Snapshot {
	return func() Snapshot { return Snapshot{Accounts: make([]xp.Account, *n)} }
}

func TestFlusherSkipsCleanState(t *testing.T) {
	saver := &fakeSaver{}
	users := 1
	f := NewFlusher(snapshotOf(&users), saver, time.Hour)

	require.NoError(t, f.flushIfDirty(context.Background()))
	assert.Zero(t, saver.count())

	f.Request()
	f.Request()
	require.NoError(t, f.flushIfDirty(context.Background()))
	require.NoError(t, f.flushIfDirty(context.Background()))
	assert.Equal(t, 1, saver.count(), "requests coalesce into one write")
}

func TestFlusherRetriesAfterFailure(t *testing.T) {
	saver := &fakeSaver{fail: 1}
	users := 2
	f := NewFlusher(snapshotOf(&users), saver, time.Hour)

	f.Request()
	require.Error(t, f.flushIfDirty(context.Background()))
	_, lastErr := f.Status()
	assert.Error(t, lastErr)

	require.NoError(t, f.flushIfDirty(context.Background()), "failed flush leaves state dirty")
	last, lastErr := f.Status()
	assert.NoError(t, lastErr)
	assert.False(t, last.IsZero())
	assert.Equal(t, 1, saver.count())
}

func TestFlusherRunAndClose(t *testing.T) {
	saver := &fakeSaver{}
	users := 3
	f := NewFlusher(snapshotOf(&users), saver, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.Request()
	require.Eventually(t, func() bool { return saver.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	users = 4
	require.NoError(t, f.Close(context.Background()))
	require.Equal(t, 2, saver.count())
	assert.Len(t, saver.saved[1].Accounts, 4, "final flush takes a fresh snapshot")
}

func TestFlusherCloseRetries(t *testing.T) {
	saver := &fakeSaver{fail: 2}
	users := 5
	f := NewFlusher(snapshotOf(&users), saver, time.Hour)
	f.closeBackoff = time.Millisecond

	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, 1, saver.count())
	_, lastErr := f.Status()
	assert.NoError(t, lastErr)
}

func TestFlusherCloseGivesUp(t *testing.T) {
	saver := &fakeSaver{fail: 10}
	users := 1
	f := NewFlusher(snapshotOf(&users), saver, time.Hour)
	f.closeBackoff = time.Millisecond

	require.Error(t, f.Close(context.Background()))
	assert.Zero(t, saver.count())
	assert.Equal(t, 7, saver.fail, "three attempts before giving up")
}

func TestFlusherCloseStopsOnContext(t *testing.T) {
	saver := &fakeSaver{fail: 10}
	users := 1
	f := NewFlusher(snapshotOf(&users), saver, time.Hour)
	f.closeBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, f.Close(ctx))
	assert.Equal(t, 9, saver.fail)
}

package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	texts  []string
	times  []time.Time
	failOn map[string]int // text -> remaining failures
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, time.Now())
	if r.failOn != nil && r.failOn[text] > 0 {
		r.failOn[text]--
		return errors.New("chat unavailable")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) sent() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...), append([]time.Time(nil), r.times...)
}

func TestQueueOrderAndSpacing(t *testing.T) {
	const interval = 15 * time.Millisecond
	q := NewQueue(interval, 1)
	s := &recordingSender{}

	var want []string
	for i := 0; i < 12; i++ {
		text := fmt.Sprintf("msg-%02d", i)
		want = append(want, text)
		q.Enqueue(text)
	}
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Run(ctx, s))

	texts, times := s.sent()
	assert.Equal(t, want, texts)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, interval, "gap between send %d and %d", i-1, i)
	}
	assert.Equal(t, 0, q.Len())
}

type slowSender struct {
	recordingSender
	delay time.Duration
}

func (s *slowSender) Send(ctx context.Context, text string) error {
	err := s.recordingSender.Send(ctx, text)
	time.Sleep(s.delay)
	return err
}

func TestSpacingCountsFromEndOfPreviousSend(t *testing.T) {
	const interval = 15 * time.Millisecond
	const delay = 10 * time.Millisecond
	q := NewQueue(interval, 1)
	s := &slowSender{delay: delay}
	for i := 0; i < 4; i++ {
		q.Enqueue(fmt.Sprintf("m%d", i))
	}
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Run(ctx, s))

	_, times := s.sent()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval+delay, "start gap %d", i)
	}
}

func TestEnqueueNeverBlocksWhileSenderStalled(t *testing.T) {
	q := NewQueue(time.Hour, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Enqueue("spam")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueueRetriesFailedSend(t *testing.T) {
	q := NewQueue(time.Millisecond, 3)
	s := &recordingSender{failOn: map[string]int{"flaky": 2}}
	q.Enqueue("flaky")
	q.Enqueue("after")
	q.Close()

	require.NoError(t, q.Run(context.Background(), s))
	texts, times := s.sent()
	assert.Equal(t, []string{"flaky", "after"}, texts)
	assert.Len(t, times, 4, "two failures, one success, then the next message")
}

func TestQueueDropsAfterMaxAttemptsAndContinues(t *testing.T) {
	q := NewQueue(0, 2)
	s := &recordingSender{failOn: map[string]int{"doomed": 5}}
	q.Enqueue("doomed")
	q.Enqueue("ok")
	q.Close()

	require.NoError(t, q.Run(context.Background(), s))
	texts, _ := s.sent()
	assert.Equal(t, []string{"ok"}, texts)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := NewQueue(time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx, SenderFunc(func(context.Context, string) error { return nil })) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMessagesEnqueuedWhileRunningAreDelivered(t *testing.T) {
	q := NewQueue(time.Millisecond, 1)
	s := &recordingSender{}
	errc := make(chan error, 1)
	go func() { errc <- q.Run(context.Background(), s) }()

	q.Enqueue("one")
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("two")
	q.Close()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not drain")
	}
	texts, _ := s.sent()
	assert.Equal(t, []string{"one", "two"}, texts)
}

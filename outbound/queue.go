// Package outbound serializes every chat message the bot sends. Callers enqueue
// without ever blocking; a single sender loop drains the queue in order and
// waits the configured interval after each attempt finishes before starting
// the next, so send starts are never closer together than that interval.
package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatxp-bot/telemetry"
)

// Sender delivers one message to chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Message is one queued chat line.
type Message struct {
	Text       string
	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO with a rate-limited consumer.
type Queue struct {
	interval    time.Duration
	maxAttempts int

	mu     sync.Mutex
	items  []Message
	closed bool
	wake   chan struct{}
}

// NewQueue creates a queue whose sender spaces sends by at least interval and
// tries each message up to maxAttempts times.
func NewQueue(interval time.Duration, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{interval: interval, maxAttempts: maxAttempts, wake: make(chan struct{}, 1)}
}

// Enqueue appends text. It never blocks and never drops.
func (q *Queue) Enqueue(text string) {
	q.mu.Lock()
	q.items = append(q.items, Message{Text: text, EnqueuedAt: time.Now()})
	n := len(q.items)
	q.mu.Unlock()
	telemetry.SetQueueDepth(n)
	q.signal()
}

// Len returns the number of messages waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close makes Run return once the queue is empty. Enqueue still works until then.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the head message, or ok=false with done=true when closed and empty.
func (q *Queue) pop() (msg Message, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Message{}, false, q.closed
	}
	msg = q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	telemetry.SetQueueDepth(len(q.items))
	return msg, true, false
}

// Run drains the queue through s until ctx is canceled, or until Close was
// called and every queued message was handled.
func (q *Queue) Run(ctx context.Context, s Sender) error {
	logger := slog.Default().With(slog.String("component", "outbound"))
	var lastSend time.Time
	for {
		msg, ok, done := q.pop()
		if done {
			logger.Info("outbound queue drained")
			return nil
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		delivered := false
		for attempt := 1; attempt <= q.maxAttempts; attempt++ {
			if err := q.waitSpacing(ctx, lastSend); err != nil {
				logger.Warn("outbound stopped with message pending", slog.String("text", msg.Text))
				return err
			}
			err := s.Send(ctx, msg.Text)
			// the next wait counts from here, after Send returned
			lastSend = time.Now()
			if err == nil {
				delivered = true
				telemetry.Inc(telemetry.MessagesSent)
				logger.Debug("message sent", slog.String("text", msg.Text), slog.Duration("queued_for", lastSend.Sub(msg.EnqueuedAt)))
				break
			}
			telemetry.Inc(telemetry.MessagesFailed)
			logger.Warn("message send failed", slog.Any("err", err), slog.Int("attempt", attempt), slog.Int("max_attempts", q.maxAttempts), slog.String("text", msg.Text))
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if !delivered {
			telemetry.Inc(telemetry.MessagesDropped)
			logger.Error("message dropped after retries", slog.String("text", msg.Text))
		}
	}
}

func (q *Queue) waitSpacing(ctx context.Context, lastSend time.Time) error {
	if lastSend.IsZero() || q.interval <= 0 {
		return ctx.Err()
	}
	wait := time.Until(lastSend.Add(q.interval))
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

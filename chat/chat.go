package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatxp-bot/bot"
)

// ErrNotConnected is returned by Send while the IRC connection is down.
var ErrNotConnected = errors.New("chat not connected")

// pinnedAmountTag is set by Twitch on paid pinned (Hype Chat) messages.
const pinnedAmountTag = "pinned-chat-paid-amount"

// irc is the part of *twitch.Client the adapter drives.
type irc interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
	SetIRCToken(token string)
}

// Client is a single-channel chat connection.
type Client struct {
	channel string
	irc     irc

	events    chan bot.Event
	connected atomic.Bool
	closeOnce sync.Once

	// sendMu guards events against a close racing a blocked send.
	sendMu sync.RWMutex
	closed bool
	done   chan struct{}

	minBackoff, maxBackoff time.Duration
}

// New returns a client for channel authenticated as username. token may be
// given with or without the "oauth:" prefix.
func New(channel, username, token string) *Client {
	return newClient(channel, twitch.NewClient(username, ircToken(token)))
}

func newClient(channel string, c irc) *Client {
	cl := &Client{
		channel:    strings.ToLower(strings.TrimPrefix(channel, "#")),
		irc:        c,
		events:     make(chan bot.Event, 256),
		done:       make(chan struct{}),
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
	c.OnPrivateMessage(cl.onMessage)
	c.OnConnect(func() {
		cl.connected.Store(true)
		slog.Info("chat connected", slog.String("channel", cl.channel), slog.String("component", "chat"))
	})
	c.Join(cl.channel)
	return cl
}

func ircToken(token string) string {
	if token == "" || strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// Events delivers incoming chat messages. It is closed when Run returns.
func (c *Client) Events() <-chan bot.Event { return c.events }

// Connected reports whether the IRC session is up.
func (c *Client) Connected() bool { return c.connected.Load() }

// SetToken replaces the credential used by the next connection attempt.
func (c *Client) SetToken(token string) { c.irc.SetIRCToken(ircToken(token)) }

// Send posts text to the channel.
func (c *Client) Send(_ context.Context, text string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.irc.Say(c.channel, text)
	return nil
}

// onMessage blocks while the events buffer is full so the IRC reader stalls
// instead of losing messages. Only shutdown drops an event.
func (c *Client) onMessage(msg twitch.PrivateMessage) {
	ev := toEvent(msg)
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
		slog.Debug("chat shutting down, event discarded",
			slog.String("user", ev.SenderKey), slog.String("component", "chat"))
	}
}

func (c *Client) closeEvents() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sendMu.Lock()
		c.closed = true
		close(c.events)
		c.sendMu.Unlock()
	})
}

func toEvent(msg twitch.PrivateMessage) bot.Event {
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	return bot.Event{
		ID:        msg.ID,
		SenderKey: strings.ToLower(msg.User.Name),
		Name:      name,
		Text:      msg.Message,
		IsPinned:  msg.Tags[pinnedAmountTag] != "",
		Timestamp: ts.UTC(),
	}
}

// Run keeps the connection up until ctx is cancelled, reconnecting with
// exponential backoff. It closes the Events channel on return.
func (c *Client) Run(ctx context.Context) error {
	defer c.closeEvents()

	go func() {
		<-ctx.Done()
		_ = c.irc.Disconnect()
	}()

	backoff := c.minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		err := c.irc.Connect()
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		// A session that stayed up for a while resets the backoff.
		if time.Since(start) > c.maxBackoff {
			backoff = c.minBackoff
		}
		slog.Warn("chat disconnected, reconnecting",
			slog.Any("err", err), slog.Duration("backoff", backoff), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.maxBackoff)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

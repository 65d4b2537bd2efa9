package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/bot"
)

type fakeIRC struct {
	mu        sync.Mutex
	onMsg     func(twitch.PrivateMessage)
	onConnect func()
	joined    []string
	said      []string
	token     string
	connects  int
	stop      chan struct{}
}

func newFakeIRC() *fakeIRC { return &fakeIRC{stop: make(chan struct{})} }

func (f *fakeIRC) OnPrivateMessage(fn func(twitch.PrivateMessage)) { f.onMsg = fn }
func (f *fakeIRC) OnConnect(fn func())                             { f.onConnect = fn }
func (f *fakeIRC) Join(ch ...string)                               { f.joined = append(f.joined, ch...) }
func (f *fakeIRC) SetIRCToken(t string)                            { f.token = t }

func (f *fakeIRC) Say(_, text string) {
	f.mu.Lock()
	f.said = append(f.said, text)
	f.mu.Unlock()
}

// Connect fails twice, then stays connected until Disconnect.
func (f *fakeIRC) Connect() error {
	f.mu.Lock()
	f.connects++
	n := f.connects
	f.mu.Unlock()
	if n <= 2 {
		return errors.New("dial tcp: connection refused")
	}
	f.onConnect()
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	return nil
}

func (f *fakeIRC) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func TestToEvent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ev := toEvent(twitch.PrivateMessage{
		User:    twitch.User{Name: "whale", DisplayName: "Whale"},
		Message: "tipped 750 pengu",
		ID:      "msg-1",
		Time:    ts,
		Tags:    map[string]string{pinnedAmountTag: "750"},
	})
	assert.Equal(t, "whale", ev.SenderKey)
	assert.Equal(t, "Whale", ev.Name)
	assert.Equal(t, "msg-1", ev.ID)
	assert.True(t, ev.IsPinned)
	assert.Equal(t, ts, ev.Timestamp)

	ev = toEvent(twitch.PrivateMessage{User: twitch.User{Name: "Fan"}, Message: "hi"})
	assert.Equal(t, "fan", ev.SenderKey)
	assert.Equal(t, "Fan", ev.Name)
	assert.False(t, ev.IsPinned)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestSendRequiresConnection(t *testing.T) {
	f := newFakeIRC()
	c := newClient("#Streamer", f)
	assert.Equal(t, []string{"streamer"}, f.joined)

	assert.ErrorIs(t, c.Send(context.Background(), "hello"), ErrNotConnected)
	f.onConnect()
	require.NoError(t, c.Send(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, f.said)
}

func TestRunReconnectsAndDeliversEvents(t *testing.T) {
	f := newFakeIRC()
	c := newClient("streamer", f)
	c.minBackoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, c.Connected, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, f.connectCount())

	f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "alice"}, Message: "!rank"})
	select {
	case ev := <-c.Events():
		assert.Equal(t, "!rank", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.False(t, c.Connected())
	_, open := <-c.Events()
	assert.False(t, open, "events channel closed after Run")
}

func TestFullBufferBlocksInsteadOfDropping(t *testing.T) {
	f := newFakeIRC()
	c := newClient("streamer", f)
	c.events = make(chan bot.Event, 1)

	delivered := make(chan struct{})
	go func() {
		f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "a"}, Message: "one"})
		f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "b"}, Message: "tipped 500 pengu"})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("second message should wait for buffer space")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, "one", (<-c.events).Text)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("blocked sender not released")
	}
	assert.Equal(t, "tipped 500 pengu", (<-c.events).Text)
}

func TestCloseReleasesBlockedSender(t *testing.T) {
	f := newFakeIRC()
	c := newClient("streamer", f)
	c.events = make(chan bot.Event, 1)
	f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "a"}, Message: "fills buffer"})

	released := make(chan struct{})
	go func() {
		f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "b"}, Message: "waits"})
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)
	c.closeEvents()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("sender still blocked after close")
	}
	assert.NotPanics(t, func() { f.onMsg(twitch.PrivateMessage{User: twitch.User{Name: "c"}, Message: "late"}) })
}

func TestTokenPrefix(t *testing.T) {
	f := newFakeIRC()
	c := newClient("streamer", f)
	c.SetToken("abc")
	assert.Equal(t, "oauth:abc", f.token)
	c.SetToken("oauth:def")
	assert.Equal(t, "oauth:def", f.token)
	assert.Equal(t, "", ircToken(""))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(45*time.Second, time.Minute))
}

// Package bot dispatches inbound chat events: XP grants, donations and the
// admin/user command surface.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatxp-bot/command"
	"github.com/onnwee/chatxp-bot/donation"
	"github.com/onnwee/chatxp-bot/giveaway"
	"github.com/onnwee/chatxp-bot/prize"
	"github.com/onnwee/chatxp-bot/telemetry"
	"github.com/onnwee/chatxp-bot/xp"
)

// Event is one inbound chat message.
type Event struct {
	ID        string
	SenderKey string
	Name      string
	Text      string
	IsPinned  bool
	Timestamp time.Time
}

// Label is the display name, falling back to the key.
func (e Event) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.SenderKey
}

// Ledger is the XP store.
type Ledger interface {
	GrantChatXP(key, name string, ts time.Time) (*xp.LevelUp, bool)
	QueryRank(key string) xp.Rank
}

// Scheduler is the giveaway engine.
type Scheduler interface {
	Create(ctx context.Context, p giveaway.CreateParams) (giveaway.Giveaway, error)
	Enter(ctx context.Context, entryCmd, key, name string, ts time.Time) (string, error)
	ScheduleEnd(ctx context.Context, entryCmd string, seconds *int) (giveaway.Giveaway, error)
	Cancel(ctx context.Context, entryCmd string) (giveaway.Giveaway, error)
	TimeLeft(entryCmd string) (giveaway.Giveaway, time.Duration, error)
	Winners(entryCmd string) (giveaway.Giveaway, error)
}

// Prizes creates prize lists.
type Prizes interface {
	CreateList(name string, items []string) (int, error)
}

// Donations detects donation messages.
type Donations interface {
	Handle(ctx context.Context, ev donation.Event) (*xp.LevelUp, bool, error)
}

// Roster is a persisted set of user keys.
type Roster interface {
	Contains(key string) bool
	Add(key string) error
	Remove(key string) (bool, error)
}

// Notifier queues outbound chat.
type Notifier interface {
	Enqueue(text string)
}

// Flusher persists state.
type Flusher interface {
	Request()
}

// Deps groups the collaborators of a Bot. Donations, Flusher and Shutdown may be nil.
type Deps struct {
	Ledger    Ledger
	Scheduler Scheduler
	Prizes    Prizes
	Donations Donations
	Admins    Roster
	Blacklist Roster
	Out       Notifier
	Flusher   Flusher
	// BotName is the bot's own login; its messages are ignored.
	BotName string
	// Shutdown is called after !quit was announced.
	Shutdown func()
}

// ShutdownMessage is announced on !quit.
const ShutdownMessage = "The XP / Prize bot is shutting down..."

// Bot handles chat events one at a time.
type Bot struct {
	d Deps
}

// New returns a Bot.
func New(d Deps) *Bot {
	d.BotName = strings.ToLower(d.BotName)
	return &Bot{d: d}
}

func (b *Bot) say(format string, args ...any) {
	b.d.Out.Enqueue(fmt.Sprintf(format, args...))
}

// member checks a roster by key and by "@name".
func member(r Roster, ev Event) bool {
	if r == nil {
		return false
	}
	key := strings.ToLower(ev.SenderKey)
	return r.Contains(key) || r.Contains("@"+key) || (ev.Name != "" && r.Contains("@"+strings.ToLower(ev.Name)))
}

// IsAdmin reports whether the sender of ev is an admin.
func (b *Bot) IsAdmin(ev Event) bool { return member(b.d.Admins, ev) }

// Run consumes events until the channel closes or ctx is canceled.
func (b *Bot) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent processes one chat message. Malformed input never panics the loop.
func (b *Bot) HandleEvent(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ctx = telemetry.WithCorrelation(ctx, ev.ID)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("user", ev.SenderKey))
	telemetry.Inc(telemetry.EventsProcessed)

	key := strings.ToLower(strings.TrimSpace(ev.SenderKey))
	if key == "" || key == b.d.BotName {
		return
	}
	if member(b.d.Blacklist, ev) {
		logger.Debug("ignoring blacklisted user")
		return
	}

	b.grantXP(ctx, logger, ev)

	cmd, err := command.Parse(ev.Text)
	var ue *command.UsageError
	if errors.As(err, &ue) {
		if !ue.AdminOnly || b.IsAdmin(ev) {
			b.say("%s", ue.Usage)
		}
		return
	}
	if cmd == nil {
		return
	}
	if cmd.AdminOnly() && !b.IsAdmin(ev) {
		logger.Debug("admin command from non-admin ignored", slog.String("text", ev.Text))
		return
	}
	b.dispatch(ctx, logger, ev, cmd)
}

func (b *Bot) grantXP(ctx context.Context, logger *slog.Logger, ev Event) {
	var up *xp.LevelUp
	handled := false
	if ev.IsPinned && b.d.Donations != nil {
		var err error
		up, handled, err = b.d.Donations.Handle(ctx, donation.Event{UserKey: ev.SenderKey, UserName: ev.Name, Text: ev.Text, IsPinned: true})
		if err != nil {
			logger.Error("donation handling failed", slog.Any("err", err))
		}
	}
	if !handled {
		var granted bool
		up, granted = b.d.Ledger.GrantChatXP(ev.SenderKey, ev.Name, ev.Timestamp)
		if granted {
			telemetry.AddLabel(telemetry.XPGranted, "chat", 1)
		}
	}
	if up != nil {
		telemetry.Inc(telemetry.LevelUps)
		name := up.Name
		if name == "" {
			name = up.Key
		}
		b.say("Congrats %s! You leveled up to level %d!", name, up.Level)
	}
}

func (b *Bot) dispatch(ctx context.Context, logger *slog.Logger, ev Event, cmd command.Command) {
	switch c := cmd.(type) {
	case command.AddAdmin:
		if err := b.d.Admins.Add(c.Target); err != nil {
			logger.Error("could not save admins", slog.Any("err", err))
			b.say("Could not add admin %s.", c.Target)
			return
		}
		b.say("Added admin %s.", c.Target)
	case command.RemoveAdmin:
		removed, err := b.d.Admins.Remove(c.Target)
		switch {
		case err != nil:
			logger.Error("could not save admins", slog.Any("err", err))
			b.say("Could not remove admin %s.", c.Target)
		case !removed:
			b.say("%s is not an admin.", c.Target)
		default:
			b.say("Removed admin %s.", c.Target)
		}
	case command.Blacklist:
		if err := b.d.Blacklist.Add(c.Target); err != nil {
			logger.Error("could not save blacklist", slog.Any("err", err))
			b.say("Could not blacklist '%s'.", c.Target)
			return
		}
		b.say("'%s' has been added to the blacklist and will be ignored.", c.Target)
	case command.CreatePrizeList:
		b.createPrizeList(logger, c)
	case command.CreateGiveaway:
		b.createGiveaway(ctx, logger, ev, c)
	case command.EndGiveaway:
		b.endGiveaway(ctx, c)
	case command.CancelGiveaway:
		g, err := b.d.Scheduler.Cancel(ctx, c.Entry)
		switch {
		case errors.Is(err, giveaway.ErrNotFound):
			b.say("No GA found for %s", c.Entry)
		case errors.Is(err, giveaway.ErrNotActive):
			b.say("GA %s not active.", g.Name)
		case err != nil:
			logger.Error("cancel failed", slog.Any("err", err))
		default:
			b.say("Canceled GA %s.", g.Name)
		}
	case command.Quit:
		logger.Info("shutdown requested", slog.String("admin", ev.SenderKey))
		b.say("%s", ShutdownMessage)
		if b.d.Flusher != nil {
			b.d.Flusher.Request()
		}
		if b.d.Shutdown != nil {
			b.d.Shutdown()
		}
	case command.Rank:
		r := b.d.Ledger.QueryRank(ev.SenderKey)
		b.say("%s: Rank #%d, Level %d, XP: %d/%d", ev.Label(), r.Position, r.Level, r.XPIntoLevel, r.XPForNext)
	case command.TimeLeft:
		b.timeLeft(c)
	case command.Winners:
		b.winners(c)
	case command.Enter:
		name, err := b.d.Scheduler.Enter(ctx, c.Entry, ev.SenderKey, ev.Name, ev.Timestamp)
		switch {
		case err == nil:
			b.say("%s entered GA %s.", ev.Label(), name)
		case errors.Is(err, giveaway.ErrNotWhitelisted):
			b.say("%s not whitelisted for %s", ev.Label(), name)
		default:
			logger.Debug("entry not accepted", slog.String("entry", c.Entry), slog.Any("reason", err))
		}
	}
}

func (b *Bot) createPrizeList(logger *slog.Logger, c command.CreatePrizeList) {
	n, err := b.d.Prizes.CreateList(c.Name, c.Items)
	switch {
	case errors.Is(err, prize.ErrInvalidName):
		b.say("Invalid prize list name. Must be 1-%d chars, cannot contain file-system reserved characters, cannot contain \"..\", and cannot end with \".\" or space.", prize.MaxNameLen)
	case err != nil:
		logger.Error("create prize list failed", slog.Any("err", err))
	case n == 0:
		b.say("Creating empty prizelist '%s' (no prizes).", c.Name)
	default:
		b.say("Creating new prizelist '%s' with %d prize(s).", c.Name, n)
	}
}

func (b *Bot) createGiveaway(ctx context.Context, logger *slog.Logger, ev Event, c command.CreateGiveaway) {
	p := giveaway.CreateParams{
		Name:       c.Name,
		EntryCmd:   c.EntryCmd,
		Creator:    ev.SenderKey,
		Whitelist:  c.Whitelist,
		PrizeList:  c.PrizeList,
		NumWinners: c.NumWinners,
		MinLevel:   c.MinLevel,
	}
	if c.Minutes != nil {
		p.Duration = time.Duration(*c.Minutes * float64(time.Minute))
	}
	g, err := b.d.Scheduler.Create(ctx, p)
	switch {
	case errors.Is(err, giveaway.ErrReservedCommand):
		b.say("Cannot use %s as a GA command; it is reserved.", c.EntryCmd)
	case errors.Is(err, giveaway.ErrInvalidCommand), errors.Is(err, giveaway.ErrInvalidParams):
		b.say("GA creation failed: missing name or entry command not starting with !.")
	case errors.Is(err, giveaway.ErrUnknownWhitelist):
		b.say("GA creation failed: whitelist '%s' not found.", c.Whitelist)
	case errors.Is(err, giveaway.ErrUnknownPrizeList):
		b.say("GA creation failed: prize list '%s' not found.", c.PrizeList)
	case err != nil:
		logger.Error("create giveaway failed", slog.Any("err", err))
		b.say("GA creation failed.")
	default:
		b.say("New GA '%s' created with entry '%s'. (Min level: %d)", g.Name, g.EntryCmd, g.MinLevel)
	}
}

func (b *Bot) endGiveaway(ctx context.Context, c command.EndGiveaway) {
	g, err := b.d.Scheduler.ScheduleEnd(ctx, c.Entry, c.Seconds)
	switch {
	case errors.Is(err, giveaway.ErrNotFound):
		b.say("No active GA for %s", c.Entry)
	case errors.Is(err, giveaway.ErrNotActive) && c.Seconds != nil:
		b.say("GA '%s' is not active, cannot update end time.", g.Name)
	case errors.Is(err, giveaway.ErrNotActive):
		b.say("GA %s not active.", g.Name)
	case err == nil && c.Seconds != nil && !g.Status.Terminal():
		b.say("Updated GA '%s' to end in %d second(s) from now.", g.Name, *c.Seconds)
	}
}

func hms(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func (b *Bot) timeLeft(c command.TimeLeft) {
	g, left, err := b.d.Scheduler.TimeLeft(c.Entry)
	switch {
	case errors.Is(err, giveaway.ErrNotFound):
		b.say("No active GA for %s", c.Entry)
	case errors.Is(err, giveaway.ErrNotActive):
		if g.EndedAt == nil {
			b.say("GA %s ended or was canceled (no end time recorded).", g.Name)
			return
		}
		b.say("GA %s ended %s ago.", g.Name, hms(time.Since(*g.EndedAt)))
	case errors.Is(err, giveaway.ErrNoEndTime):
		b.say("GA %s has no auto-end time.", g.Name)
	case err == nil:
		b.say("%s ends in %s", g.Name, hms(left))
	}
}

func (b *Bot) winners(c command.Winners) {
	g, err := b.d.Scheduler.Winners(c.Entry)
	switch {
	case errors.Is(err, giveaway.ErrNotFound):
		b.say("No giveaway found for %s.", c.Entry)
	case errors.Is(err, giveaway.ErrNotEnded) && g.Status == giveaway.StatusCancelled:
		b.say("'%s' had no winners or was canceled.", g.Name)
	case errors.Is(err, giveaway.ErrNotEnded):
		b.say("The giveaway '%s' hasn't ended yet (or was never ended).", g.Name)
	case err == nil && len(g.Winners) == 0:
		b.say("'%s' had no winners or was canceled.", g.Name)
	case err == nil:
		parts := make([]string, 0, len(g.Winners))
		for _, w := range g.Winners {
			if w.HasPrize {
				parts = append(parts, fmt.Sprintf("%s (%s)", w.Label(), w.Prize))
			} else {
				parts = append(parts, w.Label())
			}
		}
		b.say("%s winners => %s", g.Name, strings.Join(parts, ", "))
	}
}

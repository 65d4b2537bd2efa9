package giveaway

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatxp-bot/prize"
	"github.com/onnwee/chatxp-bot/telemetry"
)

// ErrUnknownList is returned when a giveaway references a missing whitelist or
// prize list. ErrUnknownWhitelist and ErrUnknownPrizeList both wrap it.
var (
	ErrUnknownList      = errors.New("unknown list")
	ErrUnknownWhitelist = fmt.Errorf("%w: whitelist", ErrUnknownList)
	ErrUnknownPrizeList = fmt.Errorf("%w: prize list", ErrUnknownList)
)

// MaxDuration bounds both creation durations and rescheduled ends.
const MaxDuration = 7 * 24 * time.Hour

// Notifier receives chat announcements.
type Notifier interface {
	Enqueue(text string)
}

// LevelSource reports a user's level.
type LevelSource interface {
	Level(key string) int
}

// Vault hands out prizes.
type Vault interface {
	Exists(name string) bool
	DrawOne(name string) (string, error)
}

// Whitelists resolves a named whitelist to its members.
type Whitelists interface {
	Load(name string) ([]string, error)
}

// Blocklist reports banned users.
type Blocklist interface {
	Contains(key string) bool
}

// Flusher is asked to persist state after every mutation.
type Flusher interface {
	Request()
}

// Auditor records lifecycle events.
type Auditor interface {
	Record(ctx context.Context, id uuid.UUID, entryCmd, event, detail string)
}

// Deps wires the scheduler to the rest of the bot. Flusher, Auditor and
// Blocklist may be nil.
type Deps struct {
	Notifier   Notifier
	Levels     LevelSource
	Vault      Vault
	Whitelists Whitelists
	Blocklist  Blocklist
	Flusher    Flusher
	Auditor    Auditor
}

// Config tunes the timing behavior.
type Config struct {
	// FinalCountdownSeconds of zero disables the COUNTDOWN state.
	FinalCountdownSeconds int
	WarningMinutes        []int
	// Rand drives winner selection; nil seeds ChaCha8 from crypto/rand.
	Rand *rand.Rand
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler owns every giveaway. All transitions happen under one mutex so a
// cancel and a tick can never both act on the same giveaway.
type Scheduler struct {
	deps           Deps
	finalCountdown int
	warnings       []int // descending
	now            func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	giveaways map[string]*Giveaway
}

// New builds a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	rng := cfg.Rand
	if rng == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		rng = rand.New(rand.NewChaCha8(seed))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	warnings := append([]int(nil), cfg.WarningMinutes...)
	sort.Sort(sort.Reverse(sort.IntSlice(warnings)))
	return &Scheduler{
		deps:           deps,
		finalCountdown: max(cfg.FinalCountdownSeconds, 0),
		warnings:       warnings,
		now:            now,
		rng:            rng,
		giveaways:      make(map[string]*Giveaway),
	}
}

func (s *Scheduler) say(text string) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Enqueue(text)
	}
}

func (s *Scheduler) audit(ctx context.Context, g *Giveaway, event, detail string) {
	if s.deps.Auditor != nil {
		s.deps.Auditor.Record(ctx, g.ID, g.EntryCmd, event, detail)
	}
}

func (s *Scheduler) flush() {
	if s.deps.Flusher != nil {
		s.deps.Flusher.Request()
	}
}

func (s *Scheduler) updateGaugeLocked() {
	n := 0
	for _, g := range s.giveaways {
		if !g.Status.Terminal() {
			n++
		}
	}
	telemetry.SetActiveGiveaways(n)
}

// NormalizeCommand lower-cases and trims an entry command.
func NormalizeCommand(cmd string) string { return strings.ToLower(strings.TrimSpace(cmd)) }

// Create registers a new giveaway. A non-terminal giveaway with the same entry
// command is cancelled and replaced.
func (s *Scheduler) Create(ctx context.Context, p CreateParams) (Giveaway, error) {
	entry := NormalizeCommand(p.EntryCmd)
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return Giveaway{}, fmt.Errorf("%w: missing name", ErrInvalidParams)
	case !strings.HasPrefix(entry, CommandPrefix) || len(entry) == len(CommandPrefix):
		return Giveaway{}, fmt.Errorf("%w: %q", ErrInvalidCommand, p.EntryCmd)
	case IsReserved(entry):
		return Giveaway{}, fmt.Errorf("%w: %s", ErrReservedCommand, entry)
	case p.Duration < 0:
		return Giveaway{}, fmt.Errorf("%w: negative duration", ErrInvalidParams)
	case p.Duration > MaxDuration:
		return Giveaway{}, fmt.Errorf("%w: duration over %s", ErrInvalidParams, MaxDuration)
	}

	var members []string
	if p.Whitelist != "" {
		if s.deps.Whitelists == nil {
			return Giveaway{}, fmt.Errorf("%w %s", ErrUnknownWhitelist, p.Whitelist)
		}
		var err error
		if members, err = s.deps.Whitelists.Load(p.Whitelist); err != nil {
			return Giveaway{}, fmt.Errorf("%w %s: %w", ErrUnknownWhitelist, p.Whitelist, err)
		}
		for i := range members {
			members[i] = strings.ToLower(strings.TrimSpace(members[i]))
		}
	}
	if p.PrizeList != "" && (s.deps.Vault == nil || !s.deps.Vault.Exists(p.PrizeList)) {
		return Giveaway{}, fmt.Errorf("%w %s", ErrUnknownPrizeList, p.PrizeList)
	}

	now := s.now()
	g := &Giveaway{
		ID:          uuid.New(),
		Name:        name,
		EntryCmd:    entry,
		Creator:     p.Creator,
		CreatedAt:   now,
		Whitelist:   p.Whitelist,
		Whitelisted: members,
		PrizeList:   p.PrizeList,
		NumWinners:  max(p.NumWinners, 1),
		MinLevel:    max(p.MinLevel, 1),
		Status:      StatusActive,
	}
	if p.Duration > 0 {
		end := now.Add(p.Duration)
		g.EndAt = &end
		g.WarnedFor = s.premarkWarnings(p.Duration)
	}

	s.mu.Lock()
	if old, ok := s.giveaways[entry]; ok && !old.Status.Terminal() {
		old.Status = StatusCancelled
		old.EndedAt = &now
		s.audit(ctx, old, "replaced", fmt.Sprintf("replaced by %q", name))
		telemetry.IncLabel(telemetry.GiveawaysFinished, "replaced")
		slog.Info("giveaway replaced", slog.String("entry", entry), slog.String("old_id", old.ID.String()), slog.String("component", "giveaway"))
	}
	s.giveaways[entry] = g
	s.audit(ctx, g, "created", fmt.Sprintf("name=%q creator=%s winners=%d min_level=%d whitelist=%q prize_list=%q", name, p.Creator, g.NumWinners, g.MinLevel, g.Whitelist, g.PrizeList))
	s.updateGaugeLocked()
	out := g.clone()
	s.mu.Unlock()

	telemetry.Inc(telemetry.GiveawaysCreated)
	slog.Info("giveaway created", slog.String("entry", entry), slog.String("name", name), slog.String("id", g.ID.String()), slog.String("component", "giveaway"))
	s.flush()
	return out, nil
}

// premarkWarnings marks thresholds longer than d so they are never announced.
func (s *Scheduler) premarkWarnings(d time.Duration) []int {
	var marked []int
	for _, m := range s.warnings {
		if d < time.Duration(m)*time.Minute {
			marked = append(marked, m)
		}
	}
	return marked
}

// Enter adds a user to a giveaway and returns the giveaway name.
// Unknown and finished giveaways yield ErrNotFound / ErrNotActive.
func (s *Scheduler) Enter(ctx context.Context, entryCmd, key, name string, ts time.Time) (string, error) {
	entry := NormalizeCommand(entryCmd)
	key = strings.ToLower(strings.TrimSpace(key))

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[entry]
	if !ok {
		return "", ErrNotFound
	}
	if g.Status.Terminal() {
		return g.Name, ErrNotActive
	}
	if s.deps.Blocklist != nil && s.deps.Blocklist.Contains(key) {
		return g.Name, fmt.Errorf("%w: blacklisted", ErrNotEligible)
	}
	if s.deps.Levels != nil && s.deps.Levels.Level(key) < g.MinLevel {
		return g.Name, fmt.Errorf("%w: below level %d", ErrNotEligible, g.MinLevel)
	}
	if g.hasEntrant(key) {
		return g.Name, ErrAlreadyEntered
	}
	if g.Whitelist != "" && !containsKey(g.Whitelisted, key) {
		return g.Name, ErrNotWhitelisted
	}
	g.Entrants = append(g.Entrants, Entrant{Key: key, Name: name, EnteredAt: ts})
	telemetry.Inc(telemetry.GiveawayEntries)
	telemetry.LoggerWithCorr(ctx).Debug("giveaway entry", slog.String("entry", entry), slog.String("user", key), slog.String("component", "giveaway"))
	s.flush()
	return g.Name, nil
}

func containsKey(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

// ScheduleEnd ends a giveaway now (seconds == nil) or moves its end time to
// now+seconds, resetting warnings and re-evaluating the countdown at once.
// Seconds are clamped to [0, MaxDuration].
func (s *Scheduler) ScheduleEnd(ctx context.Context, entryCmd string, seconds *int) (Giveaway, error) {
	entry := NormalizeCommand(entryCmd)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[entry]
	if !ok {
		return Giveaway{}, ErrNotFound
	}
	if g.Status.Terminal() {
		return g.clone(), ErrNotActive
	}

	if seconds == nil {
		s.endLocked(ctx, g, now)
		return g.clone(), nil
	}

	secs := min(max(*seconds, 0), int(MaxDuration/time.Second))
	d := time.Duration(secs) * time.Second
	end := now.Add(d)
	g.EndAt = &end
	g.WarnedFor = s.premarkWarnings(d)
	g.LastCountdown = 0
	g.Status = StatusActive
	s.audit(ctx, g, "rescheduled", fmt.Sprintf("ends in %ds", secs))
	slog.Info("giveaway end rescheduled", slog.String("entry", entry), slog.Time("end_at", end), slog.String("component", "giveaway"))
	s.evaluateLocked(ctx, g, now)
	s.flush()
	return g.clone(), nil
}

// Cancel moves a giveaway to CANCELLED without drawing.
func (s *Scheduler) Cancel(ctx context.Context, entryCmd string) (Giveaway, error) {
	entry := NormalizeCommand(entryCmd)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[entry]
	if !ok {
		return Giveaway{}, ErrNotFound
	}
	if g.Status.Terminal() {
		return g.clone(), ErrNotActive
	}
	g.Status = StatusCancelled
	g.EndedAt = &now
	g.Winners = nil
	s.audit(ctx, g, "cancelled", fmt.Sprintf("entrants=%d", len(g.Entrants)))
	s.updateGaugeLocked()
	telemetry.IncLabel(telemetry.GiveawaysFinished, "cancelled")
	slog.Info("giveaway cancelled", slog.String("entry", entry), slog.String("id", g.ID.String()), slog.String("component", "giveaway"))
	s.flush()
	return g.clone(), nil
}

// TimeLeft returns the time until the giveaway auto-ends.
func (s *Scheduler) TimeLeft(entryCmd string) (Giveaway, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[NormalizeCommand(entryCmd)]
	if !ok {
		return Giveaway{}, 0, ErrNotFound
	}
	if g.Status.Terminal() {
		return g.clone(), 0, ErrNotActive
	}
	if g.EndAt == nil {
		return g.clone(), 0, ErrNoEndTime
	}
	return g.clone(), max(g.EndAt.Sub(s.now()), 0), nil
}

// Winners returns an ended giveaway with its recorded winners.
func (s *Scheduler) Winners(entryCmd string) (Giveaway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[NormalizeCommand(entryCmd)]
	if !ok {
		return Giveaway{}, ErrNotFound
	}
	if g.Status != StatusEnded {
		return g.clone(), ErrNotEnded
	}
	return g.clone(), nil
}

// Get returns a copy of one giveaway.
func (s *Scheduler) Get(entryCmd string) (Giveaway, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[NormalizeCommand(entryCmd)]
	if !ok {
		return Giveaway{}, false
	}
	return g.clone(), true
}

// Active returns non-terminal giveaways ordered by creation.
func (s *Scheduler) Active() []Giveaway {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Giveaway
	for _, g := range s.giveaways {
		if !g.Status.Terminal() {
			out = append(out, g.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Snapshot copies every giveaway, ordered by entry command.
func (s *Scheduler) Snapshot() []Giveaway {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Giveaway, 0, len(s.giveaways))
	for _, g := range s.giveaways {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryCmd < out[j].EntryCmd })
	return out
}

// Restore replaces all giveaways. Overdue ones end on the next tick.
func (s *Scheduler) Restore(list []Giveaway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.giveaways = make(map[string]*Giveaway, len(list))
	for i := range list {
		g := list[i].clone()
		g.EntryCmd = NormalizeCommand(g.EntryCmd)
		s.giveaways[g.EntryCmd] = &g
	}
	s.updateGaugeLocked()
}

// Tick re-evaluates every non-terminal giveaway against now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]string, 0, len(s.giveaways))
	for e := range s.giveaways {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	for _, e := range entries {
		s.evaluateLocked(ctx, s.giveaways[e], now)
	}
}

// Run ticks every interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Tick(ctx, now)
		}
	}
}

// remainingSeconds rounds up so a giveaway with 0.2s left reports 1.
func remainingSeconds(endAt, now time.Time) int {
	return int(math.Ceil(endAt.Sub(now).Seconds()))
}

func (s *Scheduler) evaluateLocked(ctx context.Context, g *Giveaway, now time.Time) {
	if g.Status.Terminal() || g.EndAt == nil {
		return
	}
	remaining := remainingSeconds(*g.EndAt, now)
	if remaining <= 0 {
		s.endLocked(ctx, g, now)
		return
	}

	if s.finalCountdown > 0 && remaining <= s.finalCountdown {
		if g.Status != StatusCountdown {
			g.Status = StatusCountdown
			s.flush()
		}
		if g.LastCountdown == 0 || remaining < g.LastCountdown {
			g.LastCountdown = remaining
			s.say(fmt.Sprintf("%s winner(s) picked in %d..", g.Name, remaining))
		}
		return
	}

	crossed := 0
	for _, m := range s.warnings {
		if remaining <= m*60 && !g.warned(m) {
			g.WarnedFor = append(g.WarnedFor, m)
			crossed = m
		}
	}
	if crossed > 0 {
		unit := "minutes"
		if crossed == 1 {
			unit = "minute"
		}
		s.say(fmt.Sprintf("%s ends in %d %s! Type %s to enter!", g.Name, crossed, unit, g.EntryCmd))
		s.flush()
	}
}

// sampleLocked picks k distinct entrants uniformly (partial Fisher-Yates).
func (s *Scheduler) sampleLocked(entrants []Entrant, k int) []Entrant {
	pool := append([]Entrant(nil), entrants...)
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}

func (s *Scheduler) endLocked(ctx context.Context, g *Giveaway, now time.Time) {
	ctx, span := telemetry.StartSpan(ctx, "giveaway.draw", telemetry.GiveawayAttrs(g.EntryCmd, g.Name)...)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("entry", g.EntryCmd), slog.String("component", "giveaway"))

	k := min(g.NumWinners, len(g.Entrants))
	picked := s.sampleLocked(g.Entrants, k)
	winners := make([]Winner, 0, k)
	for _, e := range picked {
		w := Winner{Key: e.Key, Name: e.Name}
		if g.PrizeList != "" && s.deps.Vault != nil {
			item, err := s.deps.Vault.DrawOne(g.PrizeList)
			switch {
			case err == nil:
				w.Prize, w.HasPrize = item, true
				telemetry.Inc(telemetry.PrizesDrawn)
				s.say(fmt.Sprintf("%s has won '%s' in GA '%s'!", w.Label(), item, g.Name))
			default:
				if !errors.Is(err, prize.ErrEmptyList) {
					logger.Error("prize draw failed", slog.Any("err", err), slog.String("prize_list", g.PrizeList))
				}
				telemetry.Inc(telemetry.VaultExhausted)
				s.say(fmt.Sprintf("%s won, but no more prizes were available for '%s'!", w.Label(), g.Name))
			}
		}
		winners = append(winners, w)
	}

	g.Winners = winners
	g.Status = StatusEnded
	g.EndedAt = &now

	if len(winners) > 0 {
		parts := make([]string, 0, len(winners))
		for _, w := range winners {
			if w.HasPrize {
				parts = append(parts, fmt.Sprintf("%s (%s)", w.Label(), w.Prize))
			} else {
				parts = append(parts, w.Label())
			}
		}
		s.say(fmt.Sprintf("GA '%s' ended! Winners: %s", g.Name, strings.Join(parts, ", ")))
	} else {
		s.say(fmt.Sprintf("'%s' GA ended! No entries... no winners!", g.Name))
	}

	keys := make([]string, 0, len(winners))
	for _, w := range winners {
		keys = append(keys, w.Key)
	}
	s.audit(ctx, g, "ended", fmt.Sprintf("entrants=%d winners=%s", len(g.Entrants), strings.Join(keys, ",")))
	s.updateGaugeLocked()
	telemetry.IncLabel(telemetry.GiveawaysFinished, "ended")
	logger.Info("giveaway ended", slog.Int("entrants", len(g.Entrants)), slog.Int("winners", len(winners)))
	telemetry.EndSpan(span, nil)
	s.flush()
}

// Command chatxp-bot is a Twitch chat bot that awards XP for chatting and
// donating, runs timed giveaways with prize lists, and plays donation sounds.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres, runs migrations and restores the last snapshot.
//   - Starts the chat connection, the rate-limited outbound queue, the
//     giveaway ticker, the state flusher, the audit writer, the audio worker,
//     the promotions poster and the OAuth token refresher.
//   - Exposes an HTTP server with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM or the !quit chat command: queued
// messages are sent and a final snapshot is written before exit.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatxp-bot/audio"
	"github.com/onnwee/chatxp-bot/bot"
	"github.com/onnwee/chatxp-bot/chat"
	"github.com/onnwee/chatxp-bot/config"
	"github.com/onnwee/chatxp-bot/crypto"
	"github.com/onnwee/chatxp-bot/db"
	"github.com/onnwee/chatxp-bot/donation"
	"github.com/onnwee/chatxp-bot/giveaway"
	"github.com/onnwee/chatxp-bot/oauth"
	"github.com/onnwee/chatxp-bot/outbound"
	"github.com/onnwee/chatxp-bot/prize"
	"github.com/onnwee/chatxp-bot/promo"
	"github.com/onnwee/chatxp-bot/roster"
	"github.com/onnwee/chatxp-bot/server"
	"github.com/onnwee/chatxp-bot/telemetry"
	"github.com/onnwee/chatxp-bot/xp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const startupMessage = "The XP / Prize bot is starting up!"

func main() {
	if err := run(); err != nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

func run() error {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chatxp-bot", version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, applying embedded schema directly",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(startCtx, database); err != nil {
			return err
		}
	}

	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewAESSealer(cfg.EncryptionKey)
		if err != nil {
			return err
		}
		sealer = s
	}
	tokens := &db.TokenStore{DB: database, Sealer: sealer}
	tokens.LogTokenMode()

	chatToken, err := bootstrapToken(startCtx, cfg, tokens)
	if err != nil {
		return err
	}
	cfg.TwitchOAuthToken = chatToken
	if err := cfg.ValidateChatReady(); err != nil {
		return err
	}

	admins, err := roster.Open(cfg.AdminsPath())
	if err != nil {
		return err
	}
	blacklist, err := roster.Open(cfg.BlacklistPath())
	if err != nil {
		return err
	}

	store := db.NewStore(database)
	snap, err := store.Load(startCtx)
	if err != nil {
		return err
	}

	var (
		ledger   *xp.Ledger
		vault    *prize.Vault
		detector *donation.Detector
		sched    *giveaway.Scheduler
	)
	flusher := db.NewFlusher(func() db.Snapshot {
		return db.Snapshot{
			Accounts:   ledger.Snapshot(),
			Donations:  detector.Totals(),
			Giveaways:  sched.Snapshot(),
			PrizeLists: vault.Snapshot(),
		}
	}, store, cfg.FlushInterval)

	ledger = xp.NewLedger(flusher.Request)
	ledger.Restore(snap.Accounts)
	vault = prize.NewVault(flusher.Request)
	vault.Restore(snap.PrizeLists)

	sounds, err := donation.ParseSoundTable(cfg.DonationSounds)
	if err != nil {
		return err
	}
	player := audio.NewPlayer(cfg.AudioPlayer, nil)
	detector = donation.NewDetector(cfg.DonationToken, sounds, ledger, player, flusher.Request)
	detector.Restore(snap.Donations)

	queue := outbound.NewQueue(cfg.MessageRateLimit, cfg.OutboundMaxAttempts)
	audit := db.NewAuditLog(database, 256)

	sched = giveaway.New(giveaway.Config{
		FinalCountdownSeconds: cfg.FinalCountdownSeconds,
		WarningMinutes:        cfg.WarningMinutes,
	}, giveaway.Deps{
		Notifier:   queue,
		Levels:     ledger,
		Vault:      vault,
		Whitelists: roster.Dir{Path: cfg.WhitelistsDir()},
		Blocklist:  blacklist,
		Flusher:    flusher,
		Auditor:    audit,
	})
	sched.Restore(snap.Giveaways)

	slog.Info("state restored",
		slog.Int("users", len(snap.Accounts)),
		slog.Int("giveaways", len(snap.Giveaways)),
		slog.Int("prize_lists", len(snap.PrizeLists)))

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// Chat and the outbound queue outlive ctx so the shutdown message is delivered.
	sendCtx, cancelSend := context.WithCancel(context.Background())
	defer cancelSend()

	chatClient := chat.New(cfg.TwitchChannel, cfg.TwitchBotUsername, chatToken)
	b := bot.New(bot.Deps{
		Ledger:    ledger,
		Scheduler: sched,
		Prizes:    vault,
		Donations: detector,
		Admins:    admins,
		Blacklist: blacklist,
		Out:       queue,
		Flusher:   flusher,
		BotName:   cfg.TwitchBotUsername,
		Shutdown:  cancel,
	})

	var workers, senders sync.WaitGroup
	goWorker := func(wg *sync.WaitGroup, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goWorker(&senders, func() {
		if err := chatClient.Run(sendCtx); err != nil {
			slog.Error("chat stopped", slog.Any("err", err))
		}
	})
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		if err := queue.Run(sendCtx, chatClient); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("outbound queue stopped", slog.Any("err", err))
		}
	}()

	queue.Enqueue(startupMessage)

	goWorker(&workers, func() { b.Run(ctx, chatClient.Events()) })
	goWorker(&workers, func() { sched.Run(ctx, cfg.TickInterval) })
	goWorker(&workers, func() { flusher.Run(ctx) })
	goWorker(&workers, func() { audit.Run(ctx) })
	goWorker(&workers, func() { player.Run(ctx) })

	if cfg.PromotionsEnabled {
		lines, err := promo.Load(cfg.PromotionsPath())
		if err != nil {
			slog.Warn("promotions disabled", slog.Any("err", err))
		} else {
			poster := promo.NewPoster(lines, cfg.PromotionInterval, queue)
			goWorker(&workers, func() { poster.Run(ctx) })
		}
	}

	oauthCfg := oauth.TwitchConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	onToken := func(t db.Token) { chatClient.SetToken(t.AccessToken) }
	if cfg.RefreshEnabled() {
		oauth.StartRefresher(ctx, tokens, oauth.ProviderTwitch, 5*time.Minute, 15*time.Minute, oauth.TwitchRefresh(oauthCfg), onToken)
	} else {
		slog.Info("token refresh disabled (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET)", slog.String("component", "oauth"))
	}

	startPprof()

	deps := server.Deps{
		DB:      database,
		Tokens:  tokens,
		Flusher: flusher,
		Audit:   audit,
		OnToken: onToken,
		Admin: server.AdminConfig{
			Token:      cfg.AdminToken,
			Username:   cfg.AdminUsername,
			Password:   cfg.AdminPassword,
			RateLimit:  cfg.AdminRateLimit,
			RateWindow: cfg.AdminRateWindow,
		},
		Status: func() server.BotStatus {
			return botStatus(chatClient, queue, ledger, sched)
		},
	}
	if cfg.RefreshEnabled() {
		deps.OAuth = oauthCfg
	}
	goWorker(&workers, func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	})

	<-ctx.Done()
	slog.Info("shutting down")
	workers.Wait()

	// Drain the outbound queue, bounded so a dead connection cannot hang exit.
	queue.Close()
	select {
	case <-queueDone:
	case <-time.After(15 * time.Second):
		slog.Warn("outbound queue not drained before timeout", slog.Int("pending", queue.Len()))
	}
	cancelSend()
	senders.Wait()
	<-queueDone

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFlush()
	if err := flusher.Close(flushCtx); err != nil {
		return err
	}
	slog.Info("final state flushed, bye")
	return nil
}

// bootstrapToken returns the chat credential, preferring a stored (possibly
// refreshed) token over the environment. Environment credentials seed the
// store so the refresher can rotate them.
func bootstrapToken(ctx context.Context, cfg *config.Config, tokens *db.TokenStore) (string, error) {
	stored, err := tokens.GetOAuthToken(ctx, oauth.ProviderTwitch)
	if err != nil {
		return "", err
	}
	if stored.AccessToken != "" {
		return stored.AccessToken, nil
	}
	token := strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:")
	if token != "" && cfg.TwitchRefreshToken != "" {
		// Unknown expiry: the refresher treats it as due and rotates on first check.
		if err := tokens.UpsertOAuthToken(ctx, db.Token{
			Provider:     oauth.ProviderTwitch,
			AccessToken:  token,
			RefreshToken: cfg.TwitchRefreshToken,
			Scope:        cfg.TwitchScopes,
		}); err != nil {
			return "", err
		}
	}
	return token, nil
}

func botStatus(c *chat.Client, q *outbound.Queue, l *xp.Ledger, s *giveaway.Scheduler) server.BotStatus {
	st := server.BotStatus{
		ChatConnected: c.Connected(),
		QueueDepth:    q.Len(),
		Users:         len(l.Snapshot()),
	}
	for _, g := range s.Active() {
		gs := server.GiveawayStatus{
			Name:     g.Name,
			EntryCmd: g.EntryCmd,
			Status:   string(g.Status),
			Entrants: len(g.Entrants),
		}
		if _, left, err := s.TimeLeft(g.EntryCmd); err == nil {
			secs := int(left.Round(time.Second) / time.Second)
			gs.EndsInSec = &secs
		}
		st.Giveaways = append(st.Giveaways, gs)
	}
	return st
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

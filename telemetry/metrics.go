// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesSent      prometheus.Counter
	MessagesFailed    prometheus.Counter
	MessagesDropped   prometheus.Counter
	EventsProcessed   prometheus.Counter
	XPGranted         *prometheus.CounterVec // label: source=chat|donation
	LevelUps          prometheus.Counter
	GiveawaysCreated  prometheus.Counter
	GiveawaysFinished *prometheus.CounterVec // label: outcome=ended|cancelled|replaced
	GiveawayEntries   prometheus.Counter
	PrizesDrawn       prometheus.Counter
	VaultExhausted    prometheus.Counter
	Donations         prometheus.Counter
	DonatedAmount     prometheus.Counter
	FlushFailures     prometheus.Counter
	AdminRequests     *prometheus.CounterVec // label: result=allowed|limited|unauthorized

	// Histograms (seconds)
	FlushDuration prometheus.Observer

	// Gauges
	QueueDepthGauge      prometheus.Gauge
	ActiveGiveawaysGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_sent_total", Help: "Chat messages delivered by the sender loop"})
		MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_failed_total", Help: "Failed chat send attempts"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_dropped_total", Help: "Chat messages abandoned after all attempts failed"})
		EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_events_total", Help: "Inbound chat events processed"})
		XPGranted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_xp_granted_total", Help: "XP granted by source"}, []string{"source"})
		LevelUps = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_level_ups_total", Help: "Level-up events"})
		GiveawaysCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_giveaways_created_total", Help: "Giveaways created"})
		GiveawaysFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_giveaways_finished_total", Help: "Giveaways reaching a terminal state"}, []string{"outcome"})
		GiveawayEntries = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_giveaway_entries_total", Help: "Accepted giveaway entries"})
		PrizesDrawn = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_prizes_drawn_total", Help: "Prize items drawn from the vault"})
		VaultExhausted = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_prize_vault_exhausted_total", Help: "Winners recorded without a prize because the list was empty"})
		Donations = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_donations_total", Help: "Donations detected"})
		DonatedAmount = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_donated_amount_total", Help: "Sum of detected donation amounts"})
		FlushFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_flush_failures_total", Help: "Failed state flushes"})
		AdminRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_admin_requests_total", Help: "Admin endpoint requests by result"}, []string{"result"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_flush_duration_seconds", Help: "State flush duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_outbound_queue_depth", Help: "Messages waiting in the outbound queue"})
		ActiveGiveawaysGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_giveaways", Help: "Giveaways in ACTIVE or COUNTDOWN"})
	})
}

// Inc increments c if metrics were initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds v to c if metrics were initialized.
func Add(c prometheus.Counter, v float64) {
	if c != nil {
		c.Add(v)
	}
}

// IncLabel increments one series of a counter vector if initialized.
func IncLabel(c *prometheus.CounterVec, label string) {
	if c != nil {
		c.WithLabelValues(label).Inc()
	}
}

// AddLabel adds v to one series of a counter vector if initialized.
func AddLabel(c *prometheus.CounterVec, label string, v float64) {
	if c != nil {
		c.WithLabelValues(label).Add(v)
	}
}

// SetQueueDepth records current outbound queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetActiveGiveaways records the number of non-terminal giveaways.
func SetActiveGiveaways(n int) {
	if ActiveGiveawaysGauge != nil {
		ActiveGiveawaysGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

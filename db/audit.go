package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatxp-bot/telemetry"
)

// AuditEntry is one recorded giveaway transition.
type AuditEntry struct {
	GiveawayID    uuid.UUID `json:"giveaway_id"`
	EntryCmd      string    `json:"entry_cmd"`
	Event         string    `json:"event"`
	Detail        string    `json:"detail,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditLog appends giveaway transitions to giveaway_audit. Record never blocks
// the caller; entries are written by Run and dropped with a warning when the
// buffer is full.
type AuditLog struct {
	db      *sql.DB
	entries chan AuditEntry
}

// NewAuditLog returns an audit log with the given buffer size.
func NewAuditLog(db *sql.DB, buffer int) *AuditLog {
	if buffer <= 0 {
		buffer = 256
	}
	return &AuditLog{db: db, entries: make(chan AuditEntry, buffer)}
}

// Record queues a transition.
func (a *AuditLog) Record(ctx context.Context, id uuid.UUID, entryCmd, event, detail string) {
	e := AuditEntry{
		GiveawayID:    id,
		EntryCmd:      entryCmd,
		Event:         event,
		Detail:        detail,
		CorrelationID: telemetry.GetCorrelation(ctx),
		CreatedAt:     time.Now().UTC(),
	}
	select {
	case a.entries <- e:
	default:
		slog.Warn("audit buffer full, dropping entry",
			slog.String("entry", entryCmd), slog.String("event", event), slog.String("component", "audit"))
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is left.
func (a *AuditLog) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			a.drain(context.WithoutCancel(ctx))
			return
		}
		select {
		case <-ctx.Done():
		case e := <-a.entries:
			a.write(ctx, e)
		}
	}
}

func (a *AuditLog) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-a.entries:
			a.write(ctx, e)
		default:
			return
		}
	}
}

func (a *AuditLog) write(ctx context.Context, e AuditEntry) {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO giveaway_audit(giveaway_id, entry_cmd, event, detail, correlation_id, created_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		e.GiveawayID.String(), e.EntryCmd, e.Event, e.Detail, e.CorrelationID, e.CreatedAt)
	if err != nil {
		slog.Warn("audit insert failed", slog.Any("err", err),
			slog.String("entry", e.EntryCmd), slog.String("event", e.Event), slog.String("component", "audit"))
	}
}

// Recent returns the newest entries first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT giveaway_id, entry_cmd, event, detail, correlation_id, created_at
		 FROM giveaway_audit ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			id string
		)
		if err := rows.Scan(&id, &e.EntryCmd, &e.Event, &e.Detail, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.GiveawayID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("audit giveaway id: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

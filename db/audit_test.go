package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatxp-bot/telemetry"
)

func TestAuditLogWritesQueuedEntries(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	id := uuid.New()
	mock.ExpectExec("INSERT INTO giveaway_audit").
		WithArgs(id.String(), "!foam", "created", "winners=1", "corr-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO giveaway_audit").
		WithArgs(id.String(), "!foam", "ended", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	log := NewAuditLog(sqlDB, 8)
	log.Record(telemetry.WithCorrelation(context.Background(), "corr-1"), id, "!foam", "created", "winners=1")
	log.Record(context.Background(), id, "!foam", "ended", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log.Run(ctx) // drains on exit

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogDropsWhenFull(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	log := NewAuditLog(sqlDB, 1)
	log.Record(context.Background(), uuid.New(), "!a", "created", "")
	log.Record(context.Background(), uuid.New(), "!b", "created", "")
	assert.Len(t, log.entries, 1)
}

func TestAuditLogRecent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	id := uuid.New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM giveaway_audit").WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"giveaway_id", "entry_cmd", "event", "detail", "correlation_id", "created_at"}).
			AddRow(id.String(), "!foam", "ended", "", "c", at))

	got, err := NewAuditLog(sqlDB, 1).Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []AuditEntry{{GiveawayID: id, EntryCmd: "!foam", Event: "ended", CorrelationID: "c", CreatedAt: at}}, got)
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatxp-bot/giveaway"
	"github.com/onnwee/chatxp-bot/prize"
	"github.com/onnwee/chatxp-bot/xp"
)

// Snapshot is the durable state of the bot.
type Snapshot struct {
	Accounts   []xp.Account
	Donations  map[string]int64
	Giveaways  []giveaway.Giveaway
	PrizeLists []prize.List
}

// Store reads and writes Snapshots.
type Store struct {
	DB *sql.DB
}

// NewStore wraps db.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

const (
	upsertUser = `INSERT INTO users(user_key, display_name, xp, level, updated_at)
		VALUES($1,$2,$3,$4,NOW())
		ON CONFLICT(user_key) DO UPDATE SET
		  display_name=EXCLUDED.display_name, xp=EXCLUDED.xp, level=EXCLUDED.level, updated_at=NOW()`
	upsertDonation = `INSERT INTO donations(user_key, total, updated_at)
		VALUES($1,$2,NOW())
		ON CONFLICT(user_key) DO UPDATE SET total=EXCLUDED.total, updated_at=NOW()`
	upsertGiveaway = `INSERT INTO giveaways(entry_cmd, id, name, creator, created_at, end_at, ended_at,
		  whitelist, whitelisted, prize_list, num_winners, min_level, entrants, winners, status,
		  warned_for, last_countdown, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
		ON CONFLICT(entry_cmd) DO UPDATE SET
		  id=EXCLUDED.id, name=EXCLUDED.name, creator=EXCLUDED.creator, created_at=EXCLUDED.created_at,
		  end_at=EXCLUDED.end_at, ended_at=EXCLUDED.ended_at, whitelist=EXCLUDED.whitelist,
		  whitelisted=EXCLUDED.whitelisted, prize_list=EXCLUDED.prize_list,
		  num_winners=EXCLUDED.num_winners, min_level=EXCLUDED.min_level, entrants=EXCLUDED.entrants,
		  winners=EXCLUDED.winners, status=EXCLUDED.status, warned_for=EXCLUDED.warned_for,
		  last_countdown=EXCLUDED.last_countdown, updated_at=NOW()`
	// Older versions never overwrite newer ones.
	upsertPrizeList = `INSERT INTO prize_lists(name, items, version, updated_at)
		VALUES($1,$2,$3,NOW())
		ON CONFLICT(name) DO UPDATE SET items=EXCLUDED.items, version=EXCLUDED.version, updated_at=NOW()
		WHERE prize_lists.version < EXCLUDED.version`
)

// Save writes snap in a single transaction. Rows are upserted; nothing is
// deleted because the in-memory state never forgets users, giveaways or lists.
func (s *Store) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if len(snap.Accounts) > 0 {
		if err = execEach(ctx, tx, upsertUser, len(snap.Accounts), func(i int) []any {
			a := snap.Accounts[i]
			return []any{a.Key, a.Name, a.XP, a.Level}
		}); err != nil {
			return fmt.Errorf("save users: %w", err)
		}
	}

	if len(snap.Donations) > 0 {
		keys := make([]string, 0, len(snap.Donations))
		for k := range snap.Donations {
			keys = append(keys, k)
		}
		if err = execEach(ctx, tx, upsertDonation, len(keys), func(i int) []any {
			return []any{keys[i], snap.Donations[keys[i]]}
		}); err != nil {
			return fmt.Errorf("save donations: %w", err)
		}
	}

	if len(snap.PrizeLists) > 0 {
		rows := make([][]any, len(snap.PrizeLists))
		for i, l := range snap.PrizeLists {
			items, mErr := json.Marshal(nonNil(l.Items))
			if mErr != nil {
				return fmt.Errorf("encode prize list %s: %w", l.Name, mErr)
			}
			rows[i] = []any{l.Name, items, l.Version}
		}
		if err = execEach(ctx, tx, upsertPrizeList, len(rows), func(i int) []any { return rows[i] }); err != nil {
			return fmt.Errorf("save prize lists: %w", err)
		}
	}

	if len(snap.Giveaways) > 0 {
		rows := make([][]any, len(snap.Giveaways))
		for i := range snap.Giveaways {
			if rows[i], err = giveawayArgs(snap.Giveaways[i]); err != nil {
				return err
			}
		}
		if err = execEach(ctx, tx, upsertGiveaway, len(rows), func(i int) []any { return rows[i] }); err != nil {
			return fmt.Errorf("save giveaways: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(int) []any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func giveawayArgs(g giveaway.Giveaway) ([]any, error) {
	enc := func(field string, v any) ([]byte, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode giveaway %s %s: %w", g.EntryCmd, field, err)
		}
		return b, nil
	}
	whitelisted, err := enc("whitelisted", nonNil(g.Whitelisted))
	if err != nil {
		return nil, err
	}
	entrants, err := enc("entrants", nonNil(g.Entrants))
	if err != nil {
		return nil, err
	}
	winners, err := enc("winners", nonNil(g.Winners))
	if err != nil {
		return nil, err
	}
	warned, err := enc("warned_for", nonNil(g.WarnedFor))
	if err != nil {
		return nil, err
	}
	return []any{
		g.EntryCmd, g.ID.String(), g.Name, g.Creator, g.CreatedAt, g.EndAt, g.EndedAt,
		g.Whitelist, whitelisted, g.PrizeList, g.NumWinners, g.MinLevel, entrants, winners,
		string(g.Status), warned, g.LastCountdown,
	}, nil
}

// Load reads the full snapshot.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Donations: map[string]int64{}}
	var err error
	if snap.Accounts, err = s.loadUsers(ctx); err != nil {
		return Snapshot{}, err
	}
	if err = s.loadDonations(ctx, snap.Donations); err != nil {
		return Snapshot{}, err
	}
	if snap.PrizeLists, err = s.loadPrizeLists(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Giveaways, err = s.loadGiveaways(ctx); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadUsers(ctx context.Context) ([]xp.Account, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_key, display_name, xp, level FROM users`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()
	var out []xp.Account
	for rows.Next() {
		var a xp.Account
		if err := rows.Scan(&a.Key, &a.Name, &a.XP, &a.Level); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) loadDonations(ctx context.Context, into map[string]int64) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_key, total FROM donations`)
	if err != nil {
		return fmt.Errorf("load donations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			total int64
		)
		if err := rows.Scan(&key, &total); err != nil {
			return fmt.Errorf("scan donation: %w", err)
		}
		into[key] = total
	}
	return rows.Err()
}

func (s *Store) loadPrizeLists(ctx context.Context) ([]prize.List, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, items, version FROM prize_lists`)
	if err != nil {
		return nil, fmt.Errorf("load prize lists: %w", err)
	}
	defer rows.Close()
	var out []prize.List
	for rows.Next() {
		var (
			l     prize.List
			items []byte
		)
		if err := rows.Scan(&l.Name, &items, &l.Version); err != nil {
			return nil, fmt.Errorf("scan prize list: %w", err)
		}
		if err := json.Unmarshal(items, &l.Items); err != nil {
			return nil, fmt.Errorf("decode prize list %s: %w", l.Name, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) loadGiveaways(ctx context.Context) ([]giveaway.Giveaway, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT entry_cmd, id, name, creator, created_at, end_at, ended_at,
		whitelist, whitelisted, prize_list, num_winners, min_level, entrants, winners, status,
		warned_for, last_countdown FROM giveaways`)
	if err != nil {
		return nil, fmt.Errorf("load giveaways: %w", err)
	}
	defer rows.Close()
	var out []giveaway.Giveaway
	for rows.Next() {
		var (
			g                                      giveaway.Giveaway
			id, status                             string
			endAt, endedAt                         sql.NullTime
			whitelisted, entrants, winners, warned []byte
		)
		if err := rows.Scan(&g.EntryCmd, &id, &g.Name, &g.Creator, &g.CreatedAt, &endAt, &endedAt,
			&g.Whitelist, &whitelisted, &g.PrizeList, &g.NumWinners, &g.MinLevel, &entrants, &winners,
			&status, &warned, &g.LastCountdown); err != nil {
			return nil, fmt.Errorf("scan giveaway: %w", err)
		}
		if g.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("giveaway %s id: %w", g.EntryCmd, err)
		}
		g.Status = giveaway.Status(status)
		g.EndAt = timePtr(endAt)
		g.EndedAt = timePtr(endedAt)
		for _, f := range []struct {
			name string
			raw  []byte
			dst  any
		}{
			{"whitelisted", whitelisted, &g.Whitelisted},
			{"entrants", entrants, &g.Entrants},
			{"winners", winners, &g.Winners},
			{"warned_for", warned, &g.WarnedFor},
		} {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("decode giveaway %s %s: %w", g.EntryCmd, f.name, err)
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatxp-bot/db"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// TokenSaver persists OAuth tokens. *db.TokenStore implements it.
type TokenSaver interface {
	UpsertOAuthToken(ctx context.Context, t db.Token) error
}

// Flusher is the subset of *db.Flusher the admin endpoints use.
type Flusher interface {
	Flush(ctx context.Context) error
	Status() (lastFlush time.Time, lastErr error)
}

// AuditReader lists recent giveaway transitions.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]db.AuditEntry, error)
}

// GiveawayStatus summarises one non-terminal giveaway.
type GiveawayStatus struct {
	Name      string `json:"name"`
	EntryCmd  string `json:"entry_cmd"`
	Status    string `json:"status"`
	Entrants  int    `json:"entrants"`
	EndsInSec *int   `json:"ends_in_seconds,omitempty"`
}

// BotStatus is the live state reported by /status.
type BotStatus struct {
	ChatConnected bool             `json:"chat_connected"`
	QueueDepth    int              `json:"queue_depth"`
	Users         int              `json:"users"`
	Giveaways     []GiveawayStatus `json:"giveaways"`
}

// Deps are the collaborators the HTTP handlers read from. Any field may be nil;
// the corresponding endpoint then reports itself unavailable.
type Deps struct {
	DB      *sql.DB
	Tokens  TokenSaver
	OAuth   *oauth2.Config
	Flusher Flusher
	Audit   AuditReader
	Status  func() BotStatus
	// OnToken receives a freshly authorized bot token.
	OnToken func(db.Token)
	Admin   AdminConfig
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store. It reports false when
// the store is full so the flow fails rather than growing without bound.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was valid.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

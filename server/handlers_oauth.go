package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatxp-bot/db"
	"github.com/onnwee/chatxp-bot/oauth"
	"github.com/onnwee/chatxp-bot/telemetry"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow for the bot account.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.OAuth
	if cfg == nil || cfg.ClientID == "" || cfg.RedirectURL == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(10*time.Minute)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, cfg.AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the bot token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.OAuth
	if cfg == nil || h.deps.Tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("oauth exchange failed", slog.Any("err", err), slog.String("component", "oauth"))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	stored := db.Token{
		Provider:     oauth.ProviderTwitch,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        oauth.ScopeOf(tok),
	}
	if err := h.deps.Tokens.UpsertOAuthToken(ctx, stored); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.deps.OnToken != nil {
		h.deps.OnToken(stored)
	}
	telemetry.LoggerWithCorr(ctx).Info("bot token authorized", slog.Time("expires_at", stored.Expiry), slog.String("component", "oauth"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scope": stored.Scope, "expiry": stored.Expiry})
}

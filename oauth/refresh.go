// Package oauth keeps the bot's chat credential fresh. Tokens live in the
// oauth_tokens table; a jittered background loop refreshes them when their
// expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatxp-bot/db"
)

// Store persists tokens. *db.TokenStore implements it.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (db.Token, error)
	UpsertOAuthToken(ctx context.Context, t db.Token) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

var errNoRefreshToken = errors.New("no refresh token stored")

// StartRefresher launches a goroutine that periodically checks the stored
// token for provider and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
// onRefresh (optional) receives each new token, e.g. to update a live chat connection.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc, onRefresh func(db.Token)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			tok, refreshed, err := RefreshIfDue(ctx, store, provider, window, fn)
			switch {
			case err != nil && !errors.Is(err, errNoRefreshToken):
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err), slog.String("component", "oauth"))
			case refreshed:
				slog.Info("token refreshed", slog.String("provider", provider),
					slog.Time("expires_at", tok.Expiry), slog.String("component", "oauth"))
				if onRefresh != nil {
					onRefresh(tok)
				}
			}

			// Per-iteration jitter (+-20% of interval).
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// RefreshIfDue refreshes the stored token when it expires within window and
// persists the result. It reports whether a refresh happened.
func RefreshIfDue(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (db.Token, bool, error) {
	cur, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return db.Token{}, false, err
	}
	if cur.RefreshToken == "" {
		return cur, false, errNoRefreshToken
	}
	if !cur.Expiry.IsZero() && time.Until(cur.Expiry) > window {
		return cur, false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	nt, err := fn(ctx2, cur.RefreshToken)
	cancel()
	if err != nil {
		return cur, false, err
	}

	next := db.Token{
		Provider:     provider,
		AccessToken:  nt.AccessToken,
		RefreshToken: nt.RefreshToken,
		Expiry:       nt.Expiry,
		Scope:        ScopeOf(nt),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	next.Scope = strings.TrimSpace(next.Scope)
	if err := store.UpsertOAuthToken(ctx, next); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

// ScopeOf extracts the granted scope from a token response. Twitch returns it
// as a JSON array; other providers use a space separated string.
func ScopeOf(t *oauth2.Token) string {
	switch v := t.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

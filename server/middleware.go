package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chatxp-bot/telemetry"
)

// AdminConfig guards the /admin/ routes. Auth is off when neither a token nor
// a username+password pair is set.
type AdminConfig struct {
	Token    string
	Username string
	Password string
	// RateLimit is the number of requests per RateWindow per client IP; 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

func (c AdminConfig) authEnabled() bool {
	return c.Token != "" || (c.Username != "" && c.Password != "")
}

func (c AdminConfig) authorized(r *http.Request) bool {
	if c.Token != "" {
		if tok := r.Header.Get("X-Admin-Token"); tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(c.Token)) == 1 {
			return true
		}
	}
	if c.Username == "" || c.Password == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password)) == 1
	return userOK && passOK
}

// adminAuth accepts X-Admin-Token or basic auth.
func adminAuth(next http.Handler, cfg AdminConfig) http.Handler {
	if !cfg.authEnabled() {
		slog.Warn("admin authentication not configured; admin endpoints are UNPROTECTED (set ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD)")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		telemetry.IncLabel(telemetry.AdminRequests, "unauthorized")
		w.Header().Set("WWW-Authenticate", `Basic realm="chatxp-bot admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// windowLimiter is a fixed-window request counter per client IP.
type windowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &windowLimiter{limit: limit, window: window, now: time.Now, buckets: make(map[string]*bucket)}
}

// allow counts one request for ip. When the window is full it returns false
// and how long until the window resets.
func (l *windowLimiter) allow(ip string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.buckets[ip] = b
	}
	if b.count >= l.limit {
		return false, b.start.Add(l.window).Sub(now)
	}
	b.count++
	return true, 0
}

// sweep forgets buckets whose window has passed.
func (l *windowLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, ip)
		}
	}
}

func (l *windowLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop and strips any port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		ip = strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

func rateLimitMiddleware(next http.Handler, limiter *windowLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, retry := limiter.allow(ip)
		if !ok {
			telemetry.IncLabel(telemetry.AdminRequests, "limited")
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		telemetry.IncLabel(telemetry.AdminRequests, "allowed")
		next.ServeHTTP(w, r)
	})
}

// Package ratelimit implements a sliding-window request limiter keyed by
// caller identity and request class, with an HTTP middleware that sets the
// usual X-RateLimit headers.
package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Request classes. Heartbeat ingestion gets a higher budget than the
// management API.
const (
	ClassHeartbeat  = "heartbeat"
	ClassManagement = "management"
)

const (
	DefaultHeartbeatLimit  = 100
	DefaultManagementLimit = 20
	DefaultWindow          = time.Minute
)

type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	window    time.Duration
	limits    map[string]int
	overrides map[string]int
	now       func() time.Time
}

type bucket struct {
	mu     sync.Mutex
	stamps []time.Time
}

type Config struct {
	HeartbeatLimit  int
	ManagementLimit int
	Window          time.Duration
	// KeyOverrides maps "key:class" to a custom limit.
	KeyOverrides map[string]int
}

func New(cfg Config) *Limiter {
	if cfg.HeartbeatLimit <= 0 {
		cfg.HeartbeatLimit = DefaultHeartbeatLimit
	}
	if cfg.ManagementLimit <= 0 {
		cfg.ManagementLimit = DefaultManagementLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	limiter := &Limiter{
		buckets: map[string]*bucket{},
		window:  cfg.Window,
		limits: map[string]int{
			ClassHeartbeat:  cfg.HeartbeatLimit,
			ClassManagement: cfg.ManagementLimit,
		},
		overrides: map[string]int{},
		now:       time.Now,
	}
	for key, limit := range cfg.KeyOverrides {
		if limit > 0 {
			limiter.overrides[key] = limit
		}
	}
	return limiter
}

// Decision reports whether a request was admitted and the header values to
// expose to the caller. ResetAt is when the oldest stamp falls out of the
// window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	ResetAfter time.Duration
}

// Allow records a request against (key, class) and returns the admission
// decision. Rejected requests are not recorded, so a rejected caller does
// not extend its own penalty.
func (l *Limiter) Allow(key, class string) Decision {
	limit := l.limitFor(key, class)
	b := l.bucket(key + ":" + class)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := b.stamps[:0]
	for _, stamp := range b.stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	b.stamps = kept

	if len(b.stamps) >= limit {
		resetAt := b.stamps[0].Add(l.window)
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			ResetAfter: resetAt.Sub(now),
		}
	}
	b.stamps = append(b.stamps, now)
	resetAt := b.stamps[0].Add(l.window)
	return Decision{
		Allowed:    true,
		Limit:      limit,
		Remaining:  limit - len(b.stamps),
		ResetAt:    resetAt,
		ResetAfter: resetAt.Sub(now),
	}
}

// SetKeyOverride registers a custom limit for (key, class). A limit of zero
// or below clears the override.
func (l *Limiter) SetKeyOverride(key, class string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		delete(l.overrides, key+":"+class)
		return
	}
	l.overrides[key+":"+class] = limit
}

// KeyIdentity is the limiter identity for an authenticated API key.
func KeyIdentity(keyID string) string {
	return "key:" + keyID
}

func (l *Limiter) limitFor(key, class string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit, ok := l.overrides[key+":"+class]; ok {
		return limit
	}
	if limit, ok := l.limits[class]; ok {
		return limit
	}
	return DefaultManagementLimit
}

func (l *Limiter) bucket(id string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{}
		l.buckets[id] = b
	}
	return b
}

// ClassifyPath maps a request path to its limiter class. Heartbeat ingestion
// endpoints share one class across API versions.
func ClassifyPath(path string) string {
	for _, prefix := range []string{"/heartbeat", "/v1/heartbeat", "/v2/heartbeat"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return ClassHeartbeat
		}
	}
	return ClassManagement
}

// bypassPath reports whether rate limiting is skipped for path. Probes and
// scrapers are never throttled.
func bypassPath(path string) bool {
	if path == "/metrics" {
		return true
	}
	for _, prefix := range []string{"/health", "/v1/healthcheck", "/docs"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Middleware enforces the limiter per remote address (or API key when the
// request carries one) and writes X-RateLimit-* headers on every limited
// response.
// An optional onReject hook receives the class of every rejected request.
func Middleware(limiter *Limiter, logger *slog.Logger, onReject ...func(class string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			class := ClassifyPath(r.URL.Path)
			decision := limiter.Allow(key, class)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))

			if !decision.Allowed {
				for _, hook := range onReject {
					hook(class)
				}
				retryAfter := int(decision.ResetAfter.Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				logger.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("class", class),
					slog.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"success":false,"message":"rate limit exceeded, retry after %d seconds"}`, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return KeyIdentity(key)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	limiter := New(cfg)
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestSlidingWindowAdmitsAfterExpiry(t *testing.T) {
	limiter, current := newTestLimiter(Config{ManagementLimit: 2, Window: time.Minute})

	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first request: %+v", d)
	}
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second request: %+v", d)
	}
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); d.Allowed {
		t.Fatalf("expected third request rejected, got %+v", d)
	}

	// 30s later the window still holds both stamps.
	*current = current.Add(30 * time.Second)
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); d.Allowed {
		t.Fatalf("expected mid-window rejection, got %+v", d)
	}

	// Past the window the oldest stamps fall out.
	*current = current.Add(31 * time.Second)
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); !d.Allowed {
		t.Fatalf("expected admission after expiry, got %+v", d)
	}
}

func TestRejectionsDoNotExtendWindow(t *testing.T) {
	limiter, current := newTestLimiter(Config{ManagementLimit: 1, Window: time.Minute})

	limiter.Allow("addr:1.2.3.4", ClassManagement)
	for range 5 {
		if d := limiter.Allow("addr:1.2.3.4", ClassManagement); d.Allowed {
			t.Fatalf("expected rejection, got %+v", d)
		}
	}
	*current = current.Add(61 * time.Second)
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); !d.Allowed {
		t.Fatal("expected admission, rejections should not count against the window")
	}
}

func TestClassesAndKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(Config{HeartbeatLimit: 1, ManagementLimit: 1, Window: time.Minute})

	limiter.Allow("addr:1.2.3.4", ClassManagement)
	if d := limiter.Allow("addr:1.2.3.4", ClassHeartbeat); !d.Allowed {
		t.Fatal("heartbeat class must not share the management bucket")
	}
	if d := limiter.Allow("addr:5.6.7.8", ClassManagement); !d.Allowed {
		t.Fatal("a different key must get its own bucket")
	}
}

func TestPerKeyOverride(t *testing.T) {
	limiter, _ := newTestLimiter(Config{
		ManagementLimit: 1,
		Window:          time.Minute,
		KeyOverrides:    map[string]int{"key:trusted:management": 3},
	})

	for i := range 3 {
		if d := limiter.Allow("key:trusted", ClassManagement); !d.Allowed {
			t.Fatalf("override request %d rejected: %+v", i, d)
		}
	}
	if d := limiter.Allow("key:trusted", ClassManagement); d.Allowed {
		t.Fatal("expected rejection past the override limit")
	}
}

func TestSetKeyOverrideTakesEffect(t *testing.T) {
	limiter, _ := newTestLimiter(Config{ManagementLimit: 10, Window: time.Minute})
	limiter.SetKeyOverride(KeyIdentity("key-1"), ClassManagement, 2)

	for i := range 2 {
		if d := limiter.Allow(KeyIdentity("key-1"), ClassManagement); !d.Allowed {
			t.Fatalf("override request %d rejected: %+v", i, d)
		}
	}
	if d := limiter.Allow(KeyIdentity("key-1"), ClassManagement); d.Allowed {
		t.Fatal("expected rejection past the per-key limit")
	}
	// Other identities keep the class default.
	if d := limiter.Allow("addr:1.2.3.4", ClassManagement); !d.Allowed || d.Limit != 10 {
		t.Fatalf("expected class default for other callers, got %+v", d)
	}

	// Clearing restores the class default.
	limiter.SetKeyOverride(KeyIdentity("key-1"), ClassManagement, 0)
	if d := limiter.Allow(KeyIdentity("key-1"), ClassManagement); !d.Allowed || d.Limit != 10 {
		t.Fatalf("expected default after clearing override, got %+v", d)
	}
}

func TestResetIsAbsoluteTimestamp(t *testing.T) {
	limiter, current := newTestLimiter(Config{ManagementLimit: 1, Window: time.Minute})

	first := limiter.Allow("addr:1.2.3.4", ClassManagement)
	wantReset := current.Add(time.Minute)
	if !first.ResetAt.Equal(wantReset) {
		t.Fatalf("expected reset at %v, got %v", wantReset, first.ResetAt)
	}

	// 20s later the rejected decision still points at the oldest stamp's
	// expiry, not 20s-from-now.
	*current = current.Add(20 * time.Second)
	rejected := limiter.Allow("addr:1.2.3.4", ClassManagement)
	if rejected.Allowed {
		t.Fatalf("expected rejection, got %+v", rejected)
	}
	if !rejected.ResetAt.Equal(wantReset) {
		t.Fatalf("expected reset at %v, got %v", wantReset, rejected.ResetAt)
	}
	if rejected.ResetAfter != 40*time.Second {
		t.Fatalf("expected 40s until reset, got %v", rejected.ResetAfter)
	}
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]string{
		"/heartbeat/worker":       ClassHeartbeat,
		"/v1/heartbeat/worker":    ClassHeartbeat,
		"/v2/heartbeat/worker/up": ClassHeartbeat,
		"/v1/services":            ClassManagement,
		"/v1/playbooks":           ClassManagement,
		"/heartbeats":             ClassManagement,
	}
	for path, want := range cases {
		if got := ClassifyPath(path); got != want {
			t.Fatalf("ClassifyPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMiddlewareHeadersAndBypass(t *testing.T) {
	limiter, _ := newTestLimiter(Config{ManagementLimit: 1, Window: time.Minute})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Middleware(limiter, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "1.2.3.4:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := get("/v1/services")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected limit headers %v", first.Header())
	}

	second := get("/v1/services")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	wantReset := fmt.Sprintf("%d", time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC).Unix())
	if got := second.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("expected absolute reset %s, got %s", wantReset, got)
	}

	// Probe and scrape paths are never throttled.
	for _, path := range []string{"/health", "/v1/healthcheck", "/metrics", "/docs"} {
		if rec := get(path); rec.Code != http.StatusOK {
			t.Fatalf("expected bypass for %s, got %d", path, rec.Code)
		}
	}
}

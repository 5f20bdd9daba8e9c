package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/medic-ops/medic/internal/ratelimit"
	"github.com/medic-ops/medic/internal/store"
)

// authMiddleware resolves an optional API key from X-API-Key or a bearer
// token. A present-but-invalid key is rejected; an absent key falls through
// with the remote address as the rate-limit identity. Probe, metrics and docs
// paths skip auth entirely.
func (r *router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if authBypass(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}
		secret := requestSecret(req)
		if secret == "" {
			next.ServeHTTP(w, req)
			return
		}

		key, err := r.deps.Store.LookupAPIKeyBySecret(req.Context(), secret)
		if errors.Is(err, store.ErrAPIKeyNotFound) {
			r.fail(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if err != nil {
			r.deps.Logger.Error("api key lookup", slog.String("error", err.Error()))
			r.fail(w, http.StatusInternalServerError, "internal error")
			return
		}
		class := ratelimit.ClassifyPath(req.URL.Path)
		if !key.AllowsClass(class) {
			r.fail(w, http.StatusForbidden, "API key not permitted for this endpoint")
			return
		}
		// The limiter keys on X-API-Key; normalize bearer auth onto it so a
		// key gets one bucket regardless of how it was presented.
		req.Header.Set("X-API-Key", key.ID)
		r.deps.Limiter.SetKeyOverride(ratelimit.KeyIdentity(key.ID), ratelimit.ClassHeartbeat, key.HeartbeatLimit)
		r.deps.Limiter.SetKeyOverride(ratelimit.KeyIdentity(key.ID), ratelimit.ClassManagement, key.ManagementLimit)
		next.ServeHTTP(w, req)
	})
}

func authBypass(path string) bool {
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

func requestSecret(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(req.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

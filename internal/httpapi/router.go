// Package httpapi is the HTTP surface: heartbeat ingestion, the management
// API, the live event stream, metrics and docs. Every JSON response uses the
// `{success, message, results}` envelope.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/medic-ops/medic/internal/config"
	"github.com/medic-ops/medic/internal/delivery"
	"github.com/medic-ops/medic/internal/events"
	"github.com/medic-ops/medic/internal/jobruns"
	"github.com/medic-ops/medic/internal/metrics"
	"github.com/medic-ops/medic/internal/playbook"
	"github.com/medic-ops/medic/internal/ratelimit"
	"github.com/medic-ops/medic/internal/secrets"
	"github.com/medic-ops/medic/internal/store"
	"github.com/medic-ops/medic/internal/urlcheck"
)

type Dependencies struct {
	Config    config.Config
	Store     *store.Store
	Engine    *playbook.Engine
	Secrets   *secrets.Service
	Tracker   *jobruns.Tracker
	Deliverer *delivery.Deliverer
	Validator *urlcheck.Validator
	Hub       *events.Hub
	Metrics   *metrics.Metrics
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	rt := &router{deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /health/live", rt.handleHealth)
	mux.HandleFunc("GET /health/ready", rt.handleReady)
	mux.HandleFunc("GET /v1/healthcheck", rt.handleHealth)
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.HandleFunc("GET /docs", rt.handleDocs)
	mux.HandleFunc("GET /docs/swagger.json", rt.handleSwagger)
	mux.Handle("GET /v1/events/ws", events.WSHandler(deps.Hub, deps.Logger))

	mux.HandleFunc("POST /heartbeat", rt.handleHeartbeatPost)
	mux.HandleFunc("GET /heartbeat", rt.handleHeartbeatList)
	mux.HandleFunc("POST /v2/heartbeat/{id}/start", rt.handleJobSignal(store.HeartbeatStatusStarted))
	mux.HandleFunc("POST /v2/heartbeat/{id}/complete", rt.handleJobSignal(store.HeartbeatStatusCompleted))
	mux.HandleFunc("POST /v2/heartbeat/{id}/fail", rt.handleJobSignal(store.HeartbeatStatusFailed))

	mux.HandleFunc("POST /service", rt.handleServiceRegister)
	mux.HandleFunc("GET /service", rt.handleServiceList)
	mux.HandleFunc("GET /service/{heartbeat_name}", rt.handleServiceGet)
	mux.HandleFunc("POST /service/{heartbeat_name}", rt.handleServiceUpdate)
	mux.HandleFunc("GET /alerts", rt.handleAlertsList)

	mux.HandleFunc("GET /v2/snapshots", rt.handleSnapshotsList)
	mux.HandleFunc("GET /v2/snapshots/{id}", rt.handleSnapshotGet)
	mux.HandleFunc("POST /v2/snapshots/{id}/restore", rt.handleSnapshotRestore)

	mux.HandleFunc("GET /v2/playbooks", rt.handlePlaybooksList)
	mux.HandleFunc("POST /v2/playbooks", rt.handlePlaybookUpsert)
	mux.HandleFunc("GET /v2/playbooks/{id}", rt.handlePlaybookGet)
	mux.HandleFunc("POST /v2/playbooks/{id}/execute", rt.handlePlaybookExecute)
	mux.HandleFunc("GET /v2/executions", rt.handleExecutionsList)
	mux.HandleFunc("GET /v2/executions/{id}", rt.handleExecutionGet)
	mux.HandleFunc("POST /v2/executions/{id}/approve", rt.handleExecutionApprove)
	mux.HandleFunc("POST /v2/executions/{id}/cancel", rt.handleExecutionCancel)
	mux.HandleFunc("GET /v2/triggers", rt.handleTriggersList)
	mux.HandleFunc("POST /v2/triggers", rt.handleTriggerCreate)
	mux.HandleFunc("DELETE /v2/triggers/{id}", rt.handleTriggerDelete)
	mux.HandleFunc("POST /v2/scripts", rt.handleScriptUpsert)

	mux.HandleFunc("GET /v2/secrets", rt.handleSecretsList)
	mux.HandleFunc("POST /v2/secrets", rt.handleSecretSet)
	mux.HandleFunc("DELETE /v2/secrets/{name}", rt.handleSecretDelete)

	mux.HandleFunc("GET /v2/maintenance", rt.handleMaintenanceList)
	mux.HandleFunc("POST /v2/maintenance", rt.handleMaintenanceCreate)
	mux.HandleFunc("DELETE /v2/maintenance/{id}", rt.handleMaintenanceDelete)

	mux.HandleFunc("GET /v2/teams", rt.handleTeamsList)
	mux.HandleFunc("POST /v2/teams", rt.handleTeamCreate)
	mux.HandleFunc("GET /v2/services/{name}/targets", rt.handleTargetsList)
	mux.HandleFunc("POST /v2/services/{name}/targets", rt.handleTargetCreate)
	mux.HandleFunc("DELETE /v2/targets/{id}", rt.handleTargetDelete)
	mux.HandleFunc("GET /v2/services/{id}/runs/stats", rt.handleRunStats)
	mux.HandleFunc("POST /v2/webhooks", rt.handleWebhookCreate)
	mux.HandleFunc("POST /v2/webhooks/{id}/enabled", rt.handleWebhookSetEnabled)
	mux.HandleFunc("POST /v2/apikeys", rt.handleAPIKeyCreate)

	var handler http.Handler = mux
	handler = ratelimit.Middleware(deps.Limiter, deps.Logger, func(class string) {
		deps.Metrics.RateLimitRejections.WithLabelValues(class).Inc()
	})(handler)
	handler = rt.authMiddleware(handler)
	return handler
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

func (r *router) ok(w http.ResponseWriter, status int, message string, results any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Results: results})
}

func (r *router) fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (r *router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

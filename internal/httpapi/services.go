package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/medic-ops/medic/internal/store"
)

type serviceRequest struct {
	HeartbeatName      string `json:"heartbeat_name"`
	ServiceName        string `json:"service_name"`
	AlertInterval      int    `json:"alert_interval"`
	Threshold          int    `json:"threshold"`
	GracePeriodSeconds int    `json:"grace_period_seconds"`
	TeamID             string `json:"team_id"`
	Priority           string `json:"priority"`
	Runbook            string `json:"runbook"`
	MaxDurationMS      int64  `json:"max_duration_ms"`
}

func (r *router) handleServiceRegister(w http.ResponseWriter, req *http.Request) {
	var payload serviceRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.HeartbeatName) == "" {
		r.fail(w, http.StatusBadRequest, "heartbeat_name is required")
		return
	}

	existing, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), payload.HeartbeatName)
	if err == nil {
		r.ok(w, http.StatusOK, "service already registered", serviceToMap(existing))
		return
	}
	if !errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	service, err := r.deps.Store.CreateService(req.Context(), store.CreateServiceInput{
		HeartbeatName:      payload.HeartbeatName,
		ServiceName:        payload.ServiceName,
		AlertInterval:      payload.AlertInterval,
		Threshold:          payload.Threshold,
		GracePeriodSeconds: payload.GracePeriodSeconds,
		TeamID:             payload.TeamID,
		Priority:           payload.Priority,
		Runbook:            payload.Runbook,
		MaxDurationMS:      payload.MaxDurationMS,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "service registered", serviceToMap(service))
}

func (r *router) handleServiceList(w http.ResponseWriter, req *http.Request) {
	activeOnly := false
	if raw := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("active"))); raw == "true" || raw == "1" {
		activeOnly = true
	}
	services, err := r.deps.Store.ListServices(req.Context(), store.ListServicesInput{
		ServiceName: req.URL.Query().Get("service_name"),
		ActiveOnly:  activeOnly,
	})
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(services))
	for _, service := range services {
		results = append(results, serviceToMap(service))
	}
	r.ok(w, http.StatusOK, "services", results)
}

func (r *router) handleServiceGet(w http.ResponseWriter, req *http.Request) {
	service, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), req.PathValue("heartbeat_name"))
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "service", serviceToMap(service))
}

type servicePatchRequest struct {
	ServiceName        *string `json:"service_name"`
	Active             *bool   `json:"active"`
	Muted              *bool   `json:"muted"`
	AlertInterval      *int    `json:"alert_interval"`
	Threshold          *int    `json:"threshold"`
	GracePeriodSeconds *int    `json:"grace_period_seconds"`
	TeamID             *string `json:"team_id"`
	Priority           *string `json:"priority"`
	Runbook            *string `json:"runbook"`
	MaxDurationMS      *int64  `json:"max_duration_ms"`
}

func (r *router) handleServiceUpdate(w http.ResponseWriter, req *http.Request) {
	var payload servicePatchRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}

	service, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), req.PathValue("heartbeat_name"))
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Snapshot the row before mutating so the change can be rolled back.
	if err := r.snapshotService(req, service, snapshotActionType(payload)); err != nil {
		r.deps.Logger.Error("snapshot before update",
			slog.String("service_id", service.ID),
			slog.String("error", err.Error()))
		r.fail(w, http.StatusInternalServerError, "failed to snapshot service")
		return
	}

	updated, err := r.deps.Store.UpdateService(req.Context(), service.ID, store.ServicePatch{
		ServiceName:        payload.ServiceName,
		Active:             payload.Active,
		Muted:              payload.Muted,
		AlertInterval:      payload.AlertInterval,
		Threshold:          payload.Threshold,
		GracePeriodSeconds: payload.GracePeriodSeconds,
		TeamID:             payload.TeamID,
		Priority:           payload.Priority,
		Runbook:            payload.Runbook,
		MaxDurationMS:      payload.MaxDurationMS,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusOK, "service updated", serviceToMap(updated))
}

func (r *router) snapshotService(req *http.Request, service store.Service, actionType string) error {
	snapshotJSON, err := json.Marshal(serviceToMap(service))
	if err != nil {
		return err
	}
	actor := strings.TrimSpace(req.Header.Get("X-Actor"))
	if actor == "" {
		actor = "api"
	}
	_, err = r.deps.Store.InsertSnapshot(req.Context(), service.ID, string(snapshotJSON), actionType, actor)
	return err
}

func snapshotActionType(payload servicePatchRequest) string {
	switch {
	case payload.Active != nil && !*payload.Active:
		return "deactivate"
	case payload.Active != nil:
		return "activate"
	case payload.Muted != nil && *payload.Muted:
		return "mute"
	case payload.Muted != nil:
		return "unmute"
	case payload.Priority != nil:
		return "priority_change"
	case payload.TeamID != nil:
		return "team_change"
	default:
		return "edit"
	}
}

func (r *router) handleAlertsList(w http.ResponseWriter, req *http.Request) {
	activeOnly := false
	if raw := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("active"))); raw == "true" || raw == "1" {
		activeOnly = true
	}
	limit := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	alerts, err := r.deps.Store.ListAlerts(req.Context(), store.ListAlertsInput{
		ActiveOnly: activeOnly,
		ServiceID:  req.URL.Query().Get("service_id"),
		Limit:      limit,
	})
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(alerts))
	for _, alert := range alerts {
		entry := map[string]any{
			"id":              alert.ID,
			"service_id":      alert.ServiceID,
			"active":          alert.Active,
			"alert_cycle":     alert.AlertCycle,
			"created_at_unix": alert.CreatedAt.Unix(),
		}
		if alert.ExternalReferenceID != "" {
			entry["external_reference_id"] = alert.ExternalReferenceID
		}
		if !alert.ClosedAt.IsZero() {
			entry["closed_at_unix"] = alert.ClosedAt.Unix()
		}
		results = append(results, entry)
	}
	r.ok(w, http.StatusOK, "alerts", results)
}

type targetRequest struct {
	Type     string            `json:"type"`
	Config   map[string]string `json:"config"`
	Priority int               `json:"priority"`
	Enabled  *bool             `json:"enabled"`
	Period   string            `json:"period"`
}

func (r *router) handleTargetsList(w http.ResponseWriter, req *http.Request) {
	service, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), req.PathValue("name"))
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	targets, err := r.deps.Store.ListTargetsForService(req.Context(), service.ID)
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		results = append(results, map[string]any{
			"id":       target.ID,
			"type":     target.Type,
			"config":   redactTargetConfig(target.Type, target.Config),
			"priority": target.Priority,
			"enabled":  target.Enabled,
			"period":   target.Period,
		})
	}
	r.ok(w, http.StatusOK, "notification targets", results)
}

// redactTargetConfig hides credential-bearing config values in responses.
func redactTargetConfig(targetType string, config map[string]string) map[string]string {
	redacted := make(map[string]string, len(config))
	for key, value := range config {
		if targetType == store.TargetTypePagerDuty && key == "service_key" {
			redacted[key] = "***"
			continue
		}
		redacted[key] = value
	}
	return redacted
}

func (r *router) handleTargetCreate(w http.ResponseWriter, req *http.Request) {
	var payload targetRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	service, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), req.PathValue("name"))
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if payload.Type == store.TargetTypeWebhook {
		if err := r.deps.Validator.Validate(req.Context(), payload.Config["url"]); err != nil {
			r.fail(w, http.StatusBadRequest, "invalid webhook URL")
			return
		}
	}
	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	target, err := r.deps.Store.CreateNotificationTarget(req.Context(), store.CreateTargetInput{
		ServiceID: service.ID,
		Type:      payload.Type,
		Config:    payload.Config,
		Priority:  payload.Priority,
		Enabled:   enabled,
		Period:    payload.Period,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "notification target created", map[string]any{"id": target.ID})
}

func (r *router) handleTargetDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.DeleteNotificationTarget(req.Context(), req.PathValue("id")); err != nil {
		r.fail(w, http.StatusNotFound, "notification target not found")
		return
	}
	r.ok(w, http.StatusOK, "notification target deleted", nil)
}

func (r *router) handleRunStats(w http.ResponseWriter, req *http.Request) {
	service, err := r.deps.Store.GetServiceByID(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	minRuns, _ := strconv.Atoi(req.URL.Query().Get("min_runs"))
	maxRuns, _ := strconv.Atoi(req.URL.Query().Get("max_runs"))
	stats, err := r.deps.Tracker.GetDurationStatistics(req.Context(), service.ID, minRuns, maxRuns)
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "duration statistics", map[string]any{
		"count":   stats.Count,
		"mean_ms": stats.MeanMS,
		"min_ms":  stats.MinMS,
		"max_ms":  stats.MaxMS,
		"p50_ms":  stats.P50MS,
		"p95_ms":  stats.P95MS,
		"p99_ms":  stats.P99MS,
	})
}

type webhookRequest struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	ServiceID string            `json:"service_id"`
}

func (r *router) handleWebhookCreate(w http.ResponseWriter, req *http.Request) {
	var payload webhookRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := r.deps.Validator.Validate(req.Context(), payload.URL); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid webhook URL")
		return
	}
	webhook, err := r.deps.Store.CreateWebhook(req.Context(), payload.URL, payload.Headers, payload.ServiceID)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "webhook created", map[string]any{"id": webhook.ID})
}

type webhookEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (r *router) handleWebhookSetEnabled(w http.ResponseWriter, req *http.Request) {
	var payload webhookEnabledRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := r.deps.Store.SetWebhookEnabled(req.Context(), req.PathValue("id"), payload.Enabled); err != nil {
		r.fail(w, http.StatusNotFound, "webhook not found")
		return
	}
	r.ok(w, http.StatusOK, "webhook updated", nil)
}

type teamRequest struct {
	Name           string `json:"name"`
	SlackChannelID string `json:"slack_channel_id"`
}

func (r *router) handleTeamsList(w http.ResponseWriter, req *http.Request) {
	teams, err := r.deps.Store.ListTeams(req.Context())
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		results = append(results, map[string]any{
			"id":               team.ID,
			"name":             team.Name,
			"slack_channel_id": team.SlackChannelID,
		})
	}
	r.ok(w, http.StatusOK, "teams", results)
}

func (r *router) handleTeamCreate(w http.ResponseWriter, req *http.Request) {
	var payload teamRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	team, err := r.deps.Store.CreateTeam(req.Context(), payload.Name, payload.SlackChannelID)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "team created", map[string]any{"id": team.ID})
}

type apiKeyRequest struct {
	Name            string   `json:"name"`
	EndpointClasses []string `json:"endpoint_classes"`
	HeartbeatLimit  int      `json:"heartbeat_limit"`
	ManagementLimit int      `json:"management_limit"`
}

// handleAPIKeyCreate generates the secret server-side and returns it exactly
// once; only its hash is stored.
func (r *router) handleAPIKeyCreate(w http.ResponseWriter, req *http.Request) {
	var payload apiKeyRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	secret := "mk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key, err := r.deps.Store.CreateAPIKey(req.Context(), payload.Name, secret,
		payload.EndpointClasses, payload.HeartbeatLimit, payload.ManagementLimit)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "api key created", map[string]any{
		"id":               key.ID,
		"name":             key.Name,
		"secret":           secret,
		"endpoint_classes": key.EndpointClasses,
	})
}

func serviceToMap(service store.Service) map[string]any {
	return map[string]any{
		"id":                   service.ID,
		"heartbeat_name":       service.HeartbeatName,
		"service_name":         service.ServiceName,
		"active":               service.Active,
		"muted":                service.Muted,
		"down":                 service.Down,
		"alert_interval":       service.AlertInterval,
		"threshold":            service.Threshold,
		"grace_period_seconds": service.GracePeriodSeconds,
		"team_id":              service.TeamID,
		"priority":             service.Priority,
		"runbook":              service.Runbook,
		"max_duration_ms":      service.MaxDurationMS,
		"created_at_unix":      service.CreatedAt.Unix(),
		"updated_at_unix":      service.UpdatedAt.Unix(),
	}
}

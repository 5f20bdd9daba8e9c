package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

func (r *router) handleSnapshotsList(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	input := store.ListSnapshotsInput{
		ServiceID:  query.Get("service_id"),
		ActionType: query.Get("action_type"),
	}
	if raw := strings.TrimSpace(query.Get("start_date")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			r.fail(w, http.StatusBadRequest, "start_date must be RFC 3339")
			return
		}
		input.StartDate = parsed
	}
	if raw := strings.TrimSpace(query.Get("end_date")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			r.fail(w, http.StatusBadRequest, "end_date must be RFC 3339")
			return
		}
		input.EndDate = parsed
	}
	input.Limit, _ = strconv.Atoi(query.Get("limit"))
	input.Offset, _ = strconv.Atoi(query.Get("offset"))

	snapshots, err := r.deps.Store.ListSnapshots(req.Context(), input)
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(snapshots))
	for _, snapshot := range snapshots {
		results = append(results, snapshotToMap(snapshot))
	}
	r.ok(w, http.StatusOK, "snapshots", results)
}

func (r *router) handleSnapshotGet(w http.ResponseWriter, req *http.Request) {
	snapshot, err := r.deps.Store.GetSnapshot(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrSnapshotNotFound) {
		r.fail(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "snapshot", snapshotToMap(snapshot))
}

// handleSnapshotRestore overwrites the service row from the snapshot; id and
// heartbeat_name always keep their current values. A snapshot restores at
// most once.
func (r *router) handleSnapshotRestore(w http.ResponseWriter, req *http.Request) {
	snapshot, err := r.deps.Store.GetSnapshot(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrSnapshotNotFound) {
		r.fail(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	service, err := r.deps.Store.GetServiceByID(req.Context(), snapshot.ServiceID)
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusConflict, "snapshot references a deleted service")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	restored, err := serviceFromSnapshot(snapshot.SnapshotJSON, service)
	if err != nil {
		r.fail(w, http.StatusConflict, "snapshot data is not restorable")
		return
	}

	if err := r.deps.Store.MarkSnapshotRestored(req.Context(), snapshot.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrSnapshotAlreadyRestored) {
			r.fail(w, http.StatusConflict, "snapshot already restored")
			return
		}
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := r.deps.Store.OverwriteService(req.Context(), restored); err != nil {
		r.fail(w, http.StatusInternalServerError, "failed to restore service")
		return
	}
	r.ok(w, http.StatusOK, "snapshot restored", serviceToMap(restored))
}

type snapshotData struct {
	ServiceName        string `json:"service_name"`
	Active             bool   `json:"active"`
	Muted              bool   `json:"muted"`
	Down               bool   `json:"down"`
	AlertInterval      int    `json:"alert_interval"`
	Threshold          int    `json:"threshold"`
	GracePeriodSeconds int    `json:"grace_period_seconds"`
	TeamID             string `json:"team_id"`
	Priority           string `json:"priority"`
	Runbook            string `json:"runbook"`
	MaxDurationMS      int64  `json:"max_duration_ms"`
}

func serviceFromSnapshot(snapshotJSON string, current store.Service) (store.Service, error) {
	var data snapshotData
	if err := json.Unmarshal([]byte(snapshotJSON), &data); err != nil {
		return store.Service{}, err
	}
	restored := current
	restored.ServiceName = data.ServiceName
	restored.Active = data.Active
	restored.Muted = data.Muted
	restored.Down = data.Down
	restored.AlertInterval = data.AlertInterval
	restored.Threshold = data.Threshold
	restored.GracePeriodSeconds = data.GracePeriodSeconds
	restored.TeamID = data.TeamID
	restored.Priority = data.Priority
	restored.Runbook = data.Runbook
	restored.MaxDurationMS = data.MaxDurationMS
	return restored, nil
}

func snapshotToMap(snapshot store.Snapshot) map[string]any {
	result := map[string]any{
		"id":              snapshot.ID,
		"service_id":      snapshot.ServiceID,
		"action_type":     snapshot.ActionType,
		"actor":           snapshot.Actor,
		"snapshot_data":   json.RawMessage(snapshot.SnapshotJSON),
		"created_at_unix": snapshot.CreatedAt.Unix(),
	}
	if !snapshot.RestoredAt.IsZero() {
		result["restored_at_unix"] = snapshot.RestoredAt.Unix()
	}
	return result
}

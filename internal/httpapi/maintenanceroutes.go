package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/medic-ops/medic/internal/maintenance"
	"github.com/medic-ops/medic/internal/store"
)

func (r *router) handleMaintenanceList(w http.ResponseWriter, req *http.Request) {
	windows, err := r.deps.Store.ListMaintenanceWindows(req.Context())
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(windows))
	for _, window := range windows {
		results = append(results, map[string]any{
			"id":          window.ID,
			"name":        window.Name,
			"start_time":  window.StartTime.Format(time.RFC3339),
			"end_time":    window.EndTime.Format(time.RFC3339),
			"timezone":    window.Timezone,
			"recurrence":  window.Recurrence,
			"service_ids": window.ServiceIDs,
		})
	}
	r.ok(w, http.StatusOK, "maintenance windows", results)
}

type maintenanceRequest struct {
	Name       string   `json:"name"`
	StartTime  string   `json:"start_time"`
	EndTime    string   `json:"end_time"`
	Timezone   string   `json:"timezone"`
	Recurrence string   `json:"recurrence"`
	ServiceIDs []string `json:"service_ids"`
}

func (r *router) handleMaintenanceCreate(w http.ResponseWriter, req *http.Request) {
	var payload maintenanceRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		r.fail(w, http.StatusBadRequest, "name is required")
		return
	}
	start, err := time.Parse(time.RFC3339, payload.StartTime)
	if err != nil {
		r.fail(w, http.StatusBadRequest, "start_time must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, payload.EndTime)
	if err != nil {
		r.fail(w, http.StatusBadRequest, "end_time must be RFC 3339")
		return
	}
	if !end.After(start) {
		r.fail(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}
	timezone := strings.TrimSpace(payload.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		r.fail(w, http.StatusBadRequest, "unknown timezone")
		return
	}
	if payload.Recurrence != "" {
		if err := maintenance.ValidateRecurrence(payload.Recurrence); err != nil {
			r.fail(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	window, err := r.deps.Store.CreateMaintenanceWindow(req.Context(), store.CreateMaintenanceWindowInput{
		Name:       payload.Name,
		StartTime:  start,
		EndTime:    end,
		Timezone:   timezone,
		Recurrence: payload.Recurrence,
		ServiceIDs: payload.ServiceIDs,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "maintenance window created", map[string]string{"id": window.ID})
}

func (r *router) handleMaintenanceDelete(w http.ResponseWriter, req *http.Request) {
	err := r.deps.Store.DeleteMaintenanceWindow(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrMaintenanceWindowNotFound) {
		r.fail(w, http.StatusNotFound, "maintenance window not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "maintenance window deleted", nil)
}

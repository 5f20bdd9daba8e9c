package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

type heartbeatRequest struct {
	HeartbeatName string `json:"heartbeat_name"`
	Status        string `json:"status"`
	ServiceName   string `json:"service_name"`
	RunID         string `json:"run_id"`
}

func (r *router) handleHeartbeatPost(w http.ResponseWriter, req *http.Request) {
	var payload heartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.HeartbeatName) == "" {
		r.fail(w, http.StatusBadRequest, "heartbeat_name is required")
		return
	}
	status := strings.ToUpper(strings.TrimSpace(payload.Status))
	if status == "" {
		status = store.HeartbeatStatusUp
	}
	if !store.ValidHeartbeatStatus(status) {
		r.fail(w, http.StatusBadRequest, "invalid status")
		return
	}

	service, err := r.deps.Store.GetServiceByHeartbeatName(req.Context(), payload.HeartbeatName)
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service is not registered")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !service.Active {
		r.fail(w, http.StatusBadRequest, "service is inactive")
		return
	}

	if err := r.deps.Store.InsertHeartbeatEvent(req.Context(), service.ID, status, payload.RunID, time.Now().UTC()); err != nil {
		r.deps.Logger.Error("insert heartbeat", slog.String("service_id", service.ID), slog.String("error", err.Error()))
		r.fail(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	r.deps.Metrics.HeartbeatsTotal.WithLabelValues(strings.ToLower(status)).Inc()
	r.ok(w, http.StatusCreated, "heartbeat accepted", map[string]string{
		"service_id": service.ID,
		"status":     status,
	})
}

func (r *router) handleHeartbeatList(w http.ResponseWriter, req *http.Request) {
	heartbeatName := strings.TrimSpace(req.URL.Query().Get("heartbeat_name"))
	serviceName := strings.TrimSpace(req.URL.Query().Get("service_name"))
	if heartbeatName == "" && serviceName == "" {
		r.fail(w, http.StatusBadRequest, "heartbeat_name or service_name is required")
		return
	}

	var (
		service store.Service
		err     error
	)
	if heartbeatName != "" {
		service, err = r.deps.Store.GetServiceByHeartbeatName(req.Context(), heartbeatName)
	} else {
		var services []store.Service
		services, err = r.deps.Store.ListServices(req.Context(), store.ListServicesInput{ServiceName: serviceName})
		if err == nil {
			if len(services) == 0 {
				err = store.ErrServiceNotFound
			} else {
				service = services[0]
			}
		}
	}
	if errors.Is(err, store.ErrServiceNotFound) {
		r.fail(w, http.StatusNotFound, "service not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	maxCount := 50
	if raw := strings.TrimSpace(req.URL.Query().Get("maxCount")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxCount = parsed
		}
	}
	if maxCount > 250 {
		maxCount = 250
	}

	items, err := r.deps.Store.ListHeartbeatEvents(req.Context(), service.ID, maxCount)
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(items))
	for _, item := range items {
		results = append(results, map[string]any{
			"status":    item.Status,
			"run_id":    item.RunID,
			"time_unix": item.Time.Unix(),
		})
	}
	r.ok(w, http.StatusOK, "heartbeat events", map[string]any{
		"service_id": service.ID,
		"events":     results,
		"count":      len(results),
	})
}

type jobSignalRequest struct {
	RunID string `json:"run_id"`
}

// handleJobSignal serves the v2 start/complete/fail endpoints; it records the
// heartbeat event and feeds the job-run tracker.
func (r *router) handleJobSignal(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var payload jobSignalRequest
		if req.Body != nil {
			// Body is optional; run_id defaults to a timestamp bucket.
			_ = json.NewDecoder(req.Body).Decode(&payload)
		}
		runID := strings.TrimSpace(payload.RunID)
		now := time.Now().UTC()
		if runID == "" {
			runID = now.Format("20060102T150405")
		}

		service, err := r.deps.Store.GetServiceByID(req.Context(), req.PathValue("id"))
		if errors.Is(err, store.ErrServiceNotFound) {
			r.fail(w, http.StatusNotFound, "service not found")
			return
		}
		if err != nil {
			r.fail(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !service.Active {
			r.fail(w, http.StatusBadRequest, "service is inactive")
			return
		}

		if err := r.deps.Store.InsertHeartbeatEvent(req.Context(), service.ID, status, runID, now); err != nil {
			r.fail(w, http.StatusInternalServerError, "failed to record heartbeat")
			return
		}
		r.deps.Metrics.HeartbeatsTotal.WithLabelValues(strings.ToLower(status)).Inc()

		switch status {
		case store.HeartbeatStatusStarted:
			err = r.deps.Tracker.RecordJobStart(req.Context(), service.ID, runID, now)
		case store.HeartbeatStatusCompleted:
			err = r.deps.Tracker.RecordJobCompletion(req.Context(), service, runID, store.JobRunStatusCompleted, now)
		case store.HeartbeatStatusFailed:
			err = r.deps.Tracker.RecordJobCompletion(req.Context(), service, runID, store.JobRunStatusFailed, now)
		}
		if err != nil {
			r.deps.Logger.Error("job run tracking",
				slog.String("service_id", service.ID),
				slog.String("run_id", runID),
				slog.String("error", err.Error()))
			r.fail(w, http.StatusInternalServerError, "failed to record job run")
			return
		}
		r.ok(w, http.StatusCreated, "signal accepted", map[string]string{
			"service_id": service.ID,
			"run_id":     runID,
			"status":     status,
		})
	}
}

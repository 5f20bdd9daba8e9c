package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/medic-ops/medic/internal/store"
)

func (r *router) handleSecretsList(w http.ResponseWriter, req *http.Request) {
	if !r.deps.Secrets.Enabled() {
		r.fail(w, http.StatusBadRequest, "secrets storage is not configured")
		return
	}
	rows, err := r.deps.Secrets.List(req.Context())
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Names and metadata only. Values never leave the store decrypted
	// except through playbook interpolation.
	results := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		results = append(results, map[string]any{
			"name":            row.Name,
			"description":     row.Description,
			"actor":           row.Actor,
			"updated_at_unix": row.UpdatedAt.Unix(),
		})
	}
	r.ok(w, http.StatusOK, "secrets", results)
}

type secretRequest struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (r *router) handleSecretSet(w http.ResponseWriter, req *http.Request) {
	if !r.deps.Secrets.Enabled() {
		r.fail(w, http.StatusBadRequest, "secrets storage is not configured")
		return
	}
	var payload secretRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.Name) == "" || payload.Value == "" {
		r.fail(w, http.StatusBadRequest, "name and value are required")
		return
	}
	actor := strings.TrimSpace(req.Header.Get("X-Actor"))
	if actor == "" {
		actor = "api"
	}
	if err := r.deps.Secrets.Set(req.Context(), payload.Name, payload.Value, payload.Description, actor); err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "secret stored", map[string]string{"name": payload.Name})
}

func (r *router) handleSecretDelete(w http.ResponseWriter, req *http.Request) {
	if !r.deps.Secrets.Enabled() {
		r.fail(w, http.StatusBadRequest, "secrets storage is not configured")
		return
	}
	name := req.PathValue("name")
	if err := r.deps.Secrets.Delete(req.Context(), name); err != nil {
		if errors.Is(err, store.ErrSecretNotFound) {
			r.fail(w, http.StatusNotFound, "secret not found")
			return
		}
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "secret deleted", nil)
}

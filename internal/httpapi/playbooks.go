package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/medic-ops/medic/internal/playbook"
	"github.com/medic-ops/medic/internal/store"
)

func (r *router) handlePlaybooksList(w http.ResponseWriter, req *http.Request) {
	playbooks, err := r.deps.Store.ListPlaybooks(req.Context())
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(playbooks))
	for _, row := range playbooks {
		results = append(results, map[string]any{
			"id":          row.ID,
			"name":        row.Name,
			"description": row.Description,
			"version":     row.Version,
		})
	}
	r.ok(w, http.StatusOK, "playbooks", results)
}

type playbookRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	YAML        string `json:"yaml"`
}

func (r *router) handlePlaybookUpsert(w http.ResponseWriter, req *http.Request) {
	var payload playbookRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	parsed, err := playbook.Parse(payload.YAML)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.deps.Secrets.ValidateReferences(req.Context(), payload.YAML); err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = parsed.Name
	}
	row, err := r.deps.Store.UpsertPlaybook(req.Context(), name, payload.Description, payload.YAML)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "playbook saved", map[string]any{
		"id":      row.ID,
		"name":    row.Name,
		"version": row.Version,
	})
}

func (r *router) handlePlaybookGet(w http.ResponseWriter, req *http.Request) {
	row, err := r.deps.Store.GetPlaybook(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrPlaybookNotFound) {
		r.fail(w, http.StatusNotFound, "playbook not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "playbook", map[string]any{
		"id":          row.ID,
		"name":        row.Name,
		"description": row.Description,
		"version":     row.Version,
		"yaml":        row.YAMLContent,
	})
}

type executeRequest struct {
	ServiceID    string            `json:"service_id"`
	Context      map[string]string `json:"context"`
	SkipApproval bool              `json:"skip_approval"`
}

func (r *router) handlePlaybookExecute(w http.ResponseWriter, req *http.Request) {
	var payload executeRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	row, err := r.deps.Store.GetPlaybook(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrPlaybookNotFound) {
		r.fail(w, http.StatusNotFound, "playbook not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	execution, err := r.deps.Engine.Start(req.Context(), playbook.StartInput{
		Playbook:     row,
		ServiceID:    payload.ServiceID,
		Context:      payload.Context,
		SkipApproval: payload.SkipApproval,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if execution.Status == store.ExecutionStatusRunning {
		r.runExecutionAsync(execution.ID)
	}
	r.ok(w, http.StatusCreated, "execution started", executionToMap(execution, nil))
}

func (r *router) runExecutionAsync(executionID string) {
	go func() {
		if err := r.deps.Engine.Run(context.Background(), executionID); err != nil {
			r.deps.Logger.Error("playbook execution failed",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()))
		}
	}()
}

func (r *router) handleExecutionsList(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	executions, err := r.deps.Store.ListExecutions(req.Context(), store.ListExecutionsInput{
		ServiceID:  req.URL.Query().Get("service_id"),
		PlaybookID: req.URL.Query().Get("playbook_id"),
		Limit:      limit,
	})
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(executions))
	for _, execution := range executions {
		results = append(results, executionToMap(execution, nil))
	}
	r.ok(w, http.StatusOK, "executions", results)
}

func (r *router) handleExecutionGet(w http.ResponseWriter, req *http.Request) {
	execution, err := r.deps.Store.GetExecution(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrExecutionNotFound) {
		r.fail(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	steps, err := r.deps.Store.ListStepResults(req.Context(), execution.ID)
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.ok(w, http.StatusOK, "execution", executionToMap(execution, steps))
}

func (r *router) handleExecutionApprove(w http.ResponseWriter, req *http.Request) {
	execution, err := r.deps.Engine.Approve(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrExecutionNotFound) {
		r.fail(w, http.StatusNotFound, "execution not found")
		return
	}
	if errors.Is(err, playbook.ErrNotApprovable) {
		r.fail(w, http.StatusConflict, "execution is not pending approval")
		return
	}
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.runExecutionAsync(execution.ID)
	r.ok(w, http.StatusOK, "execution approved", executionToMap(execution, nil))
}

func (r *router) handleExecutionCancel(w http.ResponseWriter, req *http.Request) {
	execution, err := r.deps.Engine.Cancel(req.Context(), req.PathValue("id"))
	if errors.Is(err, store.ErrExecutionNotFound) {
		r.fail(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		r.fail(w, http.StatusConflict, err.Error())
		return
	}
	r.ok(w, http.StatusOK, "execution cancelled", executionToMap(execution, nil))
}

func (r *router) handleTriggersList(w http.ResponseWriter, req *http.Request) {
	triggers, err := r.deps.Store.ListTriggers(req.Context())
	if err != nil {
		r.fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	results := make([]map[string]any, 0, len(triggers))
	for _, trigger := range triggers {
		results = append(results, map[string]any{
			"id":                   trigger.ID,
			"playbook_id":          trigger.PlaybookID,
			"service_pattern":      trigger.ServicePattern,
			"consecutive_failures": trigger.ConsecutiveFailures,
		})
	}
	r.ok(w, http.StatusOK, "triggers", results)
}

type triggerRequest struct {
	PlaybookID          string `json:"playbook_id"`
	ServicePattern      string `json:"service_pattern"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (r *router) handleTriggerCreate(w http.ResponseWriter, req *http.Request) {
	var payload triggerRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := r.deps.Store.GetPlaybook(req.Context(), payload.PlaybookID); err != nil {
		r.fail(w, http.StatusBadRequest, "unknown playbook")
		return
	}
	trigger, err := r.deps.Store.CreateTrigger(req.Context(), payload.PlaybookID, payload.ServicePattern, payload.ConsecutiveFailures)
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "trigger created", map[string]any{"id": trigger.ID})
}

func (r *router) handleTriggerDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.DeleteTrigger(req.Context(), req.PathValue("id")); err != nil {
		r.fail(w, http.StatusNotFound, "trigger not found")
		return
	}
	r.ok(w, http.StatusOK, "trigger deleted", nil)
}

type scriptRequest struct {
	Name           string `json:"name"`
	Content        string `json:"content"`
	Interpreter    string `json:"interpreter"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (r *router) handleScriptUpsert(w http.ResponseWriter, req *http.Request) {
	var payload scriptRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.fail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := r.deps.Store.UpsertScript(req.Context(), store.RegisteredScript{
		Name:           payload.Name,
		Content:        payload.Content,
		Interpreter:    payload.Interpreter,
		TimeoutSeconds: payload.TimeoutSeconds,
	})
	if err != nil {
		r.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	r.ok(w, http.StatusCreated, "script registered", map[string]any{"name": payload.Name})
}

func executionToMap(execution store.PlaybookExecution, steps []store.StepResult) map[string]any {
	result := map[string]any{
		"id":           execution.ID,
		"playbook_id":  execution.PlaybookID,
		"service_id":   execution.ServiceID,
		"status":       execution.Status,
		"current_step": execution.CurrentStep,
	}
	if !execution.ResumeAt.IsZero() {
		result["resume_at_unix"] = execution.ResumeAt.Unix()
	}
	if !execution.ApprovalDeadline.IsZero() {
		result["approval_deadline_unix"] = execution.ApprovalDeadline.Unix()
	}
	if !execution.FinishedAt.IsZero() {
		result["finished_at_unix"] = execution.FinishedAt.Unix()
	}
	if steps != nil {
		stepResults := make([]map[string]any, 0, len(steps))
		for _, step := range steps {
			entry := map[string]any{
				"step_index": step.StepIndex,
				"step_name":  step.StepName,
				"status":     step.Status,
			}
			if step.Output != "" {
				entry["output"] = step.Output
			}
			if step.ErrorMessage != "" {
				entry["error_message"] = step.ErrorMessage
			}
			stepResults = append(stepResults, entry)
		}
		result["steps"] = stepResults
	}
	return result
}

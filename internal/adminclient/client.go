// Package adminclient is a thin HTTP client for the management API, used by
// the dashboard and the CLI. Every response arrives in the standard
// `{success, message, results}` envelope.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Service struct {
	ID                 string `json:"id"`
	HeartbeatName      string `json:"heartbeat_name"`
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
	CreatedAtUnix      int64  `json:"created_at_unix"`
	UpdatedAtUnix      int64  `json:"updated_at_unix"`
}

type Alert struct {
	ID                  string `json:"id"`
	ServiceID           string `json:"service_id"`
	Active              bool   `json:"active"`
	AlertCycle          int    `json:"alert_cycle"`
	ExternalReferenceID string `json:"external_reference_id"`
	CreatedAtUnix       int64  `json:"created_at_unix"`
	ClosedAtUnix        int64  `json:"closed_at_unix"`
}

type Execution struct {
	ID                   string `json:"id"`
	PlaybookID           string `json:"playbook_id"`
	ServiceID            string `json:"service_id"`
	Status               string `json:"status"`
	CurrentStep          int    `json:"current_step"`
	ResumeAtUnix         int64  `json:"resume_at_unix"`
	ApprovalDeadlineUnix int64  `json:"approval_deadline_unix"`
	FinishedAtUnix       int64  `json:"finished_at_unix"`
}

type Playbook struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int    `json:"version"`
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", res.Status)
	}
	return nil
}

func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := c.get(ctx, "/service", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (c *Client) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]Alert, error) {
	query := url.Values{}
	if activeOnly {
		query.Set("active", "true")
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var alerts []Alert
	if err := c.get(ctx, "/alerts", query, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var executions []Execution
	if err := c.get(ctx, "/v2/executions", query, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}

func (c *Client) ListPlaybooks(ctx context.Context) ([]Playbook, error) {
	var playbooks []Playbook
	if err := c.get(ctx, "/v2/playbooks", nil, &playbooks); err != nil {
		return nil, err
	}
	return playbooks, nil
}

func (c *Client) SetServiceMuted(ctx context.Context, heartbeatName string, muted bool) (Service, error) {
	var service Service
	err := c.post(ctx, "/service/"+url.PathEscape(heartbeatName), map[string]any{"muted": muted}, &service)
	return service, err
}

func (c *Client) SetServiceActive(ctx context.Context, heartbeatName string, active bool) (Service, error) {
	var service Service
	err := c.post(ctx, "/service/"+url.PathEscape(heartbeatName), map[string]any{"active": active}, &service)
	return service, err
}

func (c *Client) ApproveExecution(ctx context.Context, executionID string) (Execution, error) {
	var execution Execution
	err := c.post(ctx, "/v2/executions/"+url.PathEscape(executionID)+"/approve", nil, &execution)
	return execution, err
}

func (c *Client) CancelExecution(ctx context.Context, executionID string) (Execution, error) {
	var execution Execution
	err := c.post(ctx, "/v2/executions/"+url.PathEscape(executionID)+"/cancel", nil, &execution)
	return execution, err
}

func (c *Client) SendHeartbeat(ctx context.Context, heartbeatName, status string) error {
	payload := map[string]string{"heartbeat_name": heartbeatName}
	if strings.TrimSpace(status) != "" {
		payload["status"] = status
	}
	return c.post(ctx, "/heartbeat", payload, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest || !env.Success {
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = res.Status
		}
		return fmt.Errorf("%s", message)
	}
	if out == nil || len(env.Results) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	return nil
}

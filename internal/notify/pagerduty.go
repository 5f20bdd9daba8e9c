package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultPagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

var ErrPagerDutyNotConfigured = errors.New("pagerduty is not configured")

// PagerDutyClient speaks the Events v2 enqueue API. Incidents are
// deduplicated by dedup key so one alert maps to one incident across
// re-notification cycles.
type PagerDutyClient struct {
	eventsURL  string
	routingKey string
	httpClient *http.Client
}

func NewPagerDutyClient(eventsURL, routingKey string) *PagerDutyClient {
	eventsURL = strings.TrimSpace(eventsURL)
	if eventsURL == "" {
		eventsURL = DefaultPagerDutyEventsURL
	}
	return &PagerDutyClient{
		eventsURL:  eventsURL,
		routingKey: strings.TrimSpace(routingKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *PagerDutyClient) Configured() bool {
	return c.routingKey != ""
}

type pagerDutyEvent struct {
	RoutingKey  string            `json:"routing_key"`
	EventAction string            `json:"event_action"`
	DedupKey    string            `json:"dedup_key,omitempty"`
	Payload     *pagerDutyPayload `json:"payload,omitempty"`
}

type pagerDutyPayload struct {
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	Severity string `json:"severity"`
}

type pagerDutyResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	DedupKey string `json:"dedup_key"`
}

// Trigger opens (or re-triggers) an incident and returns its dedup key.
// routingKey overrides the default key when a target configures its own.
func (c *PagerDutyClient) Trigger(ctx context.Context, routingKey, summary, source, severity, dedupKey string) (string, error) {
	key := c.resolveKey(routingKey)
	if key == "" {
		return "", ErrPagerDutyNotConfigured
	}
	if severity == "" {
		severity = "error"
	}
	response, err := c.send(ctx, pagerDutyEvent{
		RoutingKey:  key,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload: &pagerDutyPayload{
			Summary:  summary,
			Source:   source,
			Severity: severity,
		},
	})
	if err != nil {
		return "", err
	}
	return response.DedupKey, nil
}

// Resolve closes the incident identified by dedupKey. Resolving an unknown
// key is not an error on the PagerDuty side.
func (c *PagerDutyClient) Resolve(ctx context.Context, routingKey, dedupKey string) error {
	key := c.resolveKey(routingKey)
	if key == "" {
		return ErrPagerDutyNotConfigured
	}
	if strings.TrimSpace(dedupKey) == "" {
		return fmt.Errorf("dedup key is required to resolve an incident")
	}
	_, err := c.send(ctx, pagerDutyEvent{
		RoutingKey:  key,
		EventAction: "resolve",
		DedupKey:    dedupKey,
	})
	return err
}

func (c *PagerDutyClient) resolveKey(routingKey string) string {
	if key := strings.TrimSpace(routingKey); key != "" {
		return key
	}
	return c.routingKey
}

func (c *PagerDutyClient) send(ctx context.Context, event pagerDutyEvent) (pagerDutyResponse, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return pagerDutyResponse{}, fmt.Errorf("encode pagerduty event: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eventsURL, bytes.NewReader(body))
	if err != nil {
		return pagerDutyResponse{}, fmt.Errorf("build pagerduty request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return pagerDutyResponse{}, fmt.Errorf("send pagerduty event: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return pagerDutyResponse{}, fmt.Errorf("read pagerduty response: %w", err)
	}
	if response.StatusCode != http.StatusAccepted {
		return pagerDutyResponse{}, fmt.Errorf("pagerduty returned status %d", response.StatusCode)
	}
	var parsed pagerDutyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return pagerDutyResponse{}, fmt.Errorf("decode pagerduty response: %w", err)
	}
	return parsed, nil
}

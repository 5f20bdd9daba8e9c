package alerting

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

	"github.com/medic-ops/medic/internal/notify"
	"github.com/medic-ops/medic/internal/store"
)

var ErrTargetDisabled = errors.New("disabled")

type urlValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// DefaultSender performs the real outbound call per target type. Each type
// has a minimum required config key: channel_id for slack, service_key for
// pagerduty, url for webhook.
type DefaultSender struct {
	slack      slackSender
	pagerduty  *notify.PagerDutyClient
	validator  urlValidator
	httpClient *http.Client
}

func NewDefaultSender(slack slackSender, pagerduty *notify.PagerDutyClient, validator urlValidator, timeout time.Duration) *DefaultSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DefaultSender{
		slack:      slack,
		pagerduty:  pagerduty,
		validator:  validator,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *DefaultSender) Send(ctx context.Context, target store.NotificationTarget, payload Payload) error {
	if !target.Enabled {
		return ErrTargetDisabled
	}
	switch target.Type {
	case store.TargetTypeSlack:
		channelID := strings.TrimSpace(target.Config["channel_id"])
		if channelID == "" {
			return fmt.Errorf("slack target missing channel_id")
		}
		return s.slack.Send(ctx, channelID, payload.Summary)
	case store.TargetTypePagerDuty:
		serviceKey := strings.TrimSpace(target.Config["service_key"])
		if serviceKey == "" {
			return fmt.Errorf("pagerduty target missing service_key")
		}
		_, err := s.pagerduty.Trigger(ctx, serviceKey, payload.Summary, "medic", payload.Severity, payload.DedupKey)
		return err
	case store.TargetTypeWebhook:
		return s.sendWebhook(ctx, target, payload)
	default:
		return fmt.Errorf("unsupported target type %q", target.Type)
	}
}

func (s *DefaultSender) sendWebhook(ctx context.Context, target store.NotificationTarget, payload Payload) error {
	targetURL := strings.TrimSpace(target.Config["url"])
	if targetURL == "" {
		return fmt.Errorf("webhook target missing url")
	}
	if err := s.validator.Validate(ctx, targetURL); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"service_id":   payload.ServiceID,
		"service_name": payload.ServiceName,
		"alert_id":     payload.AlertID,
		"message":      payload.Summary,
		"severity":     payload.Severity,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", response.StatusCode)
	}
	return nil
}

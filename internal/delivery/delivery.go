// Package delivery posts JSON payloads to configured webhooks with bounded
// retries. Every attempt outcome is persisted so operators can audit the
// delivery timeline after the fact.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

const (
	MaxAttempts       = 3
	responseBodyLimit = 4096
)

// Delay before retry N (1-indexed attempt that just failed).
var retryDelays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

type urlValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

type deliveryStore interface {
	InsertWebhookDelivery(ctx context.Context, webhookID, payload string) (string, error)
	UpdateWebhookDelivery(ctx context.Context, id string, update store.DeliveryUpdate) error
	ListWebhooksForService(ctx context.Context, serviceID string) ([]store.WebhookConfig, error)
}

// Result is the final outcome for one webhook.
type Result struct {
	WebhookID    string
	DeliveryID   string
	Success      bool
	ResponseCode int
	ErrorMessage string
}

type Deliverer struct {
	store         deliveryStore
	validator     urlValidator
	httpClient    *http.Client
	logger        *slog.Logger
	maxAttempts   int
	signingSecret string
	sleep         func(ctx context.Context, d time.Duration) error
}

type Config struct {
	Store       deliveryStore
	Validator   urlValidator
	Timeout     time.Duration
	MaxAttempts int
	// SigningSecret, when set, adds an X-Medic-Signature header so
	// receivers can verify payload authenticity.
	SigningSecret string
	Logger        *slog.Logger
}

func New(cfg Config) *Deliverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	return &Deliverer{
		store:         cfg.Store,
		validator:     cfg.Validator,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
		maxAttempts:   cfg.MaxAttempts,
		signingSecret: cfg.SigningSecret,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deliver posts payload to one webhook, retrying up to the attempt budget.
// Disabled webhooks fail immediately without a delivery row attempt loop.
func (d *Deliverer) Deliver(ctx context.Context, webhook store.WebhookConfig, payload string) Result {
	if !webhook.Enabled {
		return Result{WebhookID: webhook.ID, ErrorMessage: "disabled"}
	}
	deliveryID, err := d.store.InsertWebhookDelivery(ctx, webhook.ID, payload)
	if err != nil {
		return Result{WebhookID: webhook.ID, ErrorMessage: err.Error()}
	}
	result := Result{WebhookID: webhook.ID, DeliveryID: deliveryID}

	var lastCode int
	var lastBody string
	var lastErr string
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		code, body, err := d.attempt(ctx, webhook, payload)
		lastCode, lastBody = code, body
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = ""
		}

		if err == nil && code >= 200 && code < 300 {
			d.persist(ctx, deliveryID, store.DeliveryStatusSuccess, attempt, code, body)
			result.Success = true
			result.ResponseCode = code
			return result
		}

		d.logger.Warn("webhook delivery attempt failed",
			slog.String("webhook_id", webhook.ID),
			slog.Int("attempt", attempt),
			slog.Int("status", code))
		if attempt < d.maxAttempts {
			d.persist(ctx, deliveryID, store.DeliveryStatusRetrying, attempt, code, body)
			delayIdx := attempt - 1
			if delayIdx >= len(retryDelays) {
				delayIdx = len(retryDelays) - 1
			}
			if err := d.sleep(ctx, retryDelays[delayIdx]); err != nil {
				lastErr = err.Error()
				break
			}
		}
	}

	d.persist(ctx, deliveryID, store.DeliveryStatusFailed, d.maxAttempts, lastCode, lastBody)
	result.ResponseCode = lastCode
	if lastErr != "" {
		result.ErrorMessage = lastErr
	} else {
		result.ErrorMessage = fmt.Sprintf("delivery failed with status %d", lastCode)
	}
	return result
}

func (d *Deliverer) attempt(ctx context.Context, webhook store.WebhookConfig, payload string) (int, string, error) {
	if err := d.validator.Validate(ctx, webhook.URL); err != nil {
		return 0, "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if d.signingSecret != "" {
		request.Header.Set("X-Medic-Signature", "sha256="+signPayload(d.signingSecret, payload))
	}
	for key, value := range webhook.Headers {
		request.Header.Set(key, value)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return 0, "", fmt.Errorf("post webhook: %w", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, responseBodyLimit+1))
	body := string(raw)
	if len(body) > responseBodyLimit {
		body = body[:responseBodyLimit] + "...[truncated]"
	}
	return response.StatusCode, body, nil
}

func (d *Deliverer) persist(ctx context.Context, deliveryID, status string, attempts, code int, body string) {
	if err := d.store.UpdateWebhookDelivery(ctx, deliveryID, store.DeliveryUpdate{
		Status:       status,
		Attempts:     attempts,
		ResponseCode: code,
		ResponseBody: body,
	}); err != nil {
		d.logger.Error("persist webhook delivery", slog.String("delivery_id", deliveryID), slog.String("error", err.Error()))
	}
}

// DeliverToAll fans payload out to every webhook bound to the service (plus
// global webhooks), one goroutine per webhook.
func (d *Deliverer) DeliverToAll(ctx context.Context, serviceID, payload string) ([]Result, error) {
	webhooks, err := d.store.ListWebhooksForService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	results := make([]Result, len(webhooks))
	var wg sync.WaitGroup
	for i, webhook := range webhooks {
		wg.Add(1)
		go func(i int, webhook store.WebhookConfig) {
			defer wg.Done()
			results[i] = d.Deliver(ctx, webhook, payload)
		}(i, webhook)
	}
	wg.Wait()
	return results, nil
}

// DeliverAsync returns immediately; retries continue in the background until
// ctx is cancelled.
func (d *Deliverer) DeliverAsync(ctx context.Context, webhook store.WebhookConfig, payload string) {
	go d.Deliver(ctx, webhook, payload)
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

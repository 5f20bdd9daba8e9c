package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

const (
	DeliveryStatusPending  = "pending"
	DeliveryStatusRetrying = "retrying"
	DeliveryStatusSuccess  = "success"
	DeliveryStatusFailed   = "failed"
)

type WebhookConfig struct {
	ID        string
	URL       string
	Headers   map[string]string
	Enabled   bool
	ServiceID string
	CreatedAt time.Time
}

type WebhookDelivery struct {
	ID           string
	WebhookID    string
	Payload      string
	Status       string
	Attempts     int
	ResponseCode int
	ResponseBody string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Store) CreateWebhook(ctx context.Context, url string, headers map[string]string, serviceID string) (WebhookConfig, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return WebhookConfig{}, fmt.Errorf("webhook url is required")
	}
	headersJSON, err := json.Marshal(nonNilContext(headers))
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("encode webhook headers: %w", err)
	}
	id := "wh-" + uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO webhooks (id, url, headers_json, enabled, service_id, created_at_unix)
		VALUES (?, ?, ?, 1, ?, ?)`,
		id, url, string(headersJSON), nullIfEmpty(strings.TrimSpace(serviceID)), now.Unix(),
	)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("insert webhook: %w", err)
	}
	return WebhookConfig{ID: id, URL: url, Headers: nonNilContext(headers), Enabled: true, ServiceID: serviceID, CreatedAt: now}, nil
}

func (s *Store) SetWebhookEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE webhooks SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set webhook enabled: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// ListWebhooksForService returns webhooks bound to the service plus global
// webhooks (null service_id).
func (s *Store) ListWebhooksForService(ctx context.Context, serviceID string) ([]WebhookConfig, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, url, headers_json, enabled, service_id, created_at_unix
		FROM webhooks WHERE service_id IS NULL OR service_id = ? ORDER BY id`,
		strings.TrimSpace(serviceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []WebhookConfig{}
	for rows.Next() {
		var (
			webhook     WebhookConfig
			headersJSON string
			enabled     int
			svcID       sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&webhook.ID, &webhook.URL, &headersJSON, &enabled, &svcID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhook.Headers = map[string]string{}
		if headersJSON != "" {
			if err := json.Unmarshal([]byte(headersJSON), &webhook.Headers); err != nil {
				return nil, fmt.Errorf("decode webhook headers: %w", err)
			}
		}
		webhook.Enabled = enabled == 1
		webhook.ServiceID = svcID.String
		webhook.CreatedAt = time.Unix(createdAt, 0).UTC()
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (s *Store) InsertWebhookDelivery(ctx context.Context, webhookID, payload string) (string, error) {
	id := "del-" + uuid.NewString()
	nowUnix := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, payload, status, attempts, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, webhookID, payload, DeliveryStatusPending, nowUnix, nowUnix,
	)
	if err != nil {
		return "", fmt.Errorf("insert webhook delivery: %w", err)
	}
	return id, nil
}

type DeliveryUpdate struct {
	Status       string
	Attempts     int
	ResponseCode int
	ResponseBody string
}

func (s *Store) UpdateWebhookDelivery(ctx context.Context, id string, update DeliveryUpdate) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE webhook_deliveries SET status = ?, attempts = ?, response_code = ?, response_body = ?, updated_at_unix = ?
		WHERE id = ?`,
		update.Status,
		update.Attempts,
		nullIfZeroInt64(int64(update.ResponseCode)),
		nullIfEmpty(update.ResponseBody),
		time.Now().UTC().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) GetWebhookDelivery(ctx context.Context, id string) (WebhookDelivery, error) {
	var (
		delivery     WebhookDelivery
		responseCode sql.NullInt64
		responseBody sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, webhook_id, payload, status, attempts, response_code, response_body, created_at_unix, updated_at_unix
		FROM webhook_deliveries WHERE id = ?`,
		id,
	).Scan(&delivery.ID, &delivery.WebhookID, &delivery.Payload, &delivery.Status, &delivery.Attempts, &responseCode, &responseBody, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookDelivery{}, ErrDeliveryNotFound
	}
	if err != nil {
		return WebhookDelivery{}, fmt.Errorf("get webhook delivery: %w", err)
	}
	delivery.ResponseCode = int(responseCode.Int64)
	delivery.ResponseBody = responseBody.String
	delivery.CreatedAt = time.Unix(createdAt, 0).UTC()
	delivery.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return delivery, nil
}

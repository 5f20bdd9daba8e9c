package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrTargetNotFound = errors.New("notification target not found")

const (
	TargetTypeSlack     = "slack"
	TargetTypePagerDuty = "pagerduty"
	TargetTypeWebhook   = "webhook"
)

const (
	TargetPeriodAlways      = "always"
	TargetPeriodDuringHours = "during_hours"
	TargetPeriodAfterHours  = "after_hours"
)

type NotificationTarget struct {
	ID        string
	ServiceID string
	Type      string
	Config    map[string]string
	Priority  int
	Enabled   bool
	Period    string
	CreatedAt time.Time
}

type CreateTargetInput struct {
	ServiceID string
	Type      string
	Config    map[string]string
	Priority  int
	Enabled   bool
	Period    string
}

func (s *Store) CreateNotificationTarget(ctx context.Context, input CreateTargetInput) (NotificationTarget, error) {
	targetType := strings.ToLower(strings.TrimSpace(input.Type))
	switch targetType {
	case TargetTypeSlack, TargetTypePagerDuty, TargetTypeWebhook:
	default:
		return NotificationTarget{}, fmt.Errorf("unsupported notification target type %q", input.Type)
	}
	period := strings.ToLower(strings.TrimSpace(input.Period))
	switch period {
	case TargetPeriodAlways, TargetPeriodDuringHours, TargetPeriodAfterHours:
	case "":
		period = TargetPeriodAlways
	default:
		return NotificationTarget{}, fmt.Errorf("unsupported notification period %q", input.Period)
	}
	configJSON, err := json.Marshal(nonNilContext(input.Config))
	if err != nil {
		return NotificationTarget{}, fmt.Errorf("encode target config: %w", err)
	}

	id := "nt-" + uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO notification_targets (id, service_id, type, config_json, priority, enabled, period, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, input.ServiceID, targetType, string(configJSON), input.Priority, boolToInt(input.Enabled), period, now.Unix(),
	)
	if err != nil {
		return NotificationTarget{}, fmt.Errorf("insert notification target: %w", err)
	}
	return NotificationTarget{
		ID:        id,
		ServiceID: input.ServiceID,
		Type:      targetType,
		Config:    nonNilContext(input.Config),
		Priority:  input.Priority,
		Enabled:   input.Enabled,
		Period:    period,
		CreatedAt: now,
	}, nil
}

// ListTargetsForService returns enabled and disabled targets ordered by
// priority ascending; the router decides what to do with disabled rows.
func (s *Store) ListTargetsForService(ctx context.Context, serviceID string) ([]NotificationTarget, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, service_id, type, config_json, priority, enabled, period, created_at_unix
		FROM notification_targets WHERE service_id = ?
		ORDER BY priority, id`,
		serviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification targets: %w", err)
	}
	defer rows.Close()

	targets := []NotificationTarget{}
	for rows.Next() {
		var (
			target     NotificationTarget
			configJSON string
			enabled    int
			createdAt  int64
		)
		if err := rows.Scan(&target.ID, &target.ServiceID, &target.Type, &configJSON, &target.Priority, &enabled, &target.Period, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification target: %w", err)
		}
		target.Config = map[string]string{}
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &target.Config); err != nil {
				return nil, fmt.Errorf("decode target config: %w", err)
			}
		}
		target.Enabled = enabled == 1
		target.CreatedAt = time.Unix(createdAt, 0).UTC()
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (s *Store) DeleteNotificationTarget(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notification_targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification target: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrTargetNotFound
	}
	return nil
}

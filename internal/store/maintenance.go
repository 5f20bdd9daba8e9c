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

var ErrMaintenanceWindowNotFound = errors.New("maintenance window not found")

type MaintenanceWindow struct {
	ID         string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Timezone   string
	Recurrence string
	ServiceIDs []string
	CreatedAt  time.Time
}

// AppliesTo reports whether the window covers the given service. An empty
// service list means the window is global.
func (w MaintenanceWindow) AppliesTo(serviceID string) bool {
	if len(w.ServiceIDs) == 0 {
		return true
	}
	for _, id := range w.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

type CreateMaintenanceWindowInput struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Timezone   string
	Recurrence string
	ServiceIDs []string
}

func (s *Store) CreateMaintenanceWindow(ctx context.Context, input CreateMaintenanceWindowInput) (MaintenanceWindow, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return MaintenanceWindow{}, fmt.Errorf("maintenance window name is required")
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() || !input.EndTime.After(input.StartTime) {
		return MaintenanceWindow{}, fmt.Errorf("maintenance window requires start_time before end_time")
	}
	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return MaintenanceWindow{}, fmt.Errorf("invalid timezone: %w", err)
	}
	serviceIDs := input.ServiceIDs
	if serviceIDs == nil {
		serviceIDs = []string{}
	}
	serviceIDsJSON, err := json.Marshal(serviceIDs)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("encode service ids: %w", err)
	}

	id := "mw-" + uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO maintenance_windows (id, name, start_at_unix, end_at_unix, timezone, recurrence, service_ids_json, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name,
		input.StartTime.UTC().Unix(), input.EndTime.UTC().Unix(),
		timezone,
		nullIfEmpty(strings.TrimSpace(input.Recurrence)),
		string(serviceIDsJSON),
		now.Unix(),
	)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("insert maintenance window: %w", err)
	}
	return MaintenanceWindow{
		ID:         id,
		Name:       name,
		StartTime:  input.StartTime.UTC(),
		EndTime:    input.EndTime.UTC(),
		Timezone:   timezone,
		Recurrence: strings.TrimSpace(input.Recurrence),
		ServiceIDs: serviceIDs,
		CreatedAt:  now,
	}, nil
}

func (s *Store) ListMaintenanceWindows(ctx context.Context) ([]MaintenanceWindow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, start_at_unix, end_at_unix, timezone, recurrence, service_ids_json, created_at_unix
		FROM maintenance_windows ORDER BY start_at_unix`,
	)
	if err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	defer rows.Close()

	windows := []MaintenanceWindow{}
	for rows.Next() {
		var (
			window         MaintenanceWindow
			startAt        int64
			endAt          int64
			recurrence     sql.NullString
			serviceIDsJSON string
			createdAt      int64
		)
		if err := rows.Scan(&window.ID, &window.Name, &startAt, &endAt, &window.Timezone, &recurrence, &serviceIDsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		window.StartTime = time.Unix(startAt, 0).UTC()
		window.EndTime = time.Unix(endAt, 0).UTC()
		window.Recurrence = recurrence.String
		window.ServiceIDs = []string{}
		if serviceIDsJSON != "" {
			if err := json.Unmarshal([]byte(serviceIDsJSON), &window.ServiceIDs); err != nil {
				return nil, fmt.Errorf("decode service ids: %w", err)
			}
		}
		window.CreatedAt = time.Unix(createdAt, 0).UTC()
		windows = append(windows, window)
	}
	return windows, rows.Err()
}

func (s *Store) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM maintenance_windows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance window: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrMaintenanceWindowNotFound
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrServiceNotFound = errors.New("service not found")

type Service struct {
	ID                 string
	HeartbeatName      string
	ServiceName        string
	Active             bool
	Muted              bool
	Down               bool
	AlertInterval      int
	Threshold          int
	GracePeriodSeconds int
	TeamID             string
	Priority           string
	Runbook            string
	MaxDurationMS      int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CreateServiceInput struct {
	HeartbeatName      string
	ServiceName        string
	AlertInterval      int
	Threshold          int
	GracePeriodSeconds int
	TeamID             string
	Priority           string
	Runbook            string
	MaxDurationMS      int64
}

// ServicePatch carries only the fields present in an update request. Nil
// pointers leave the stored value untouched.
type ServicePatch struct {
	ServiceName        *string
	Active             *bool
	Muted              *bool
	Down               *bool
	AlertInterval      *int
	Threshold          *int
	GracePeriodSeconds *int
	TeamID             *string
	Priority           *string
	Runbook            *string
	MaxDurationMS      *int64
}

const serviceColumns = `id, heartbeat_name, service_name, active, muted, down,
	alert_interval, threshold, grace_period_seconds, team_id, priority, runbook,
	max_duration_ms, created_at_unix, updated_at_unix`

func (s *Store) CreateService(ctx context.Context, input CreateServiceInput) (Service, error) {
	heartbeatName := strings.TrimSpace(input.HeartbeatName)
	if heartbeatName == "" {
		return Service{}, fmt.Errorf("heartbeat name is required")
	}
	serviceName := strings.TrimSpace(input.ServiceName)
	if serviceName == "" {
		serviceName = heartbeatName
	}
	alertInterval := input.AlertInterval
	if alertInterval < 1 {
		alertInterval = 5
	}
	threshold := input.Threshold
	if threshold < 1 {
		threshold = 1
	}
	priority := normalizePriority(input.Priority)

	nowUnix := time.Now().UTC().Unix()
	id := "svc-" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO services (
			id, heartbeat_name, service_name, active, muted, down,
			alert_interval, threshold, grace_period_seconds, team_id, priority,
			runbook, max_duration_ms, created_at_unix, updated_at_unix
		) VALUES (?, ?, ?, 1, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		heartbeatName,
		serviceName,
		alertInterval,
		threshold,
		input.GracePeriodSeconds,
		nullIfEmpty(strings.TrimSpace(input.TeamID)),
		priority,
		nullIfEmpty(strings.TrimSpace(input.Runbook)),
		nullIfZeroInt64(input.MaxDurationMS),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return Service{}, fmt.Errorf("insert service: %w", err)
	}
	return s.GetServiceByID(ctx, id)
}

func (s *Store) GetServiceByID(ctx context.Context, id string) (Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	return scanService(row)
}

// GetServiceByHeartbeatName resolves a service by its heartbeat name,
// case-insensitively.
func (s *Store) GetServiceByHeartbeatName(ctx context.Context, heartbeatName string) (Service, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+serviceColumns+` FROM services WHERE heartbeat_name = ? COLLATE NOCASE`,
		strings.TrimSpace(heartbeatName),
	)
	return scanService(row)
}

type ListServicesInput struct {
	ServiceName string
	ActiveOnly  bool
}

func (s *Store) ListServices(ctx context.Context, input ListServicesInput) ([]Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	clauses := []string{}
	args := []any{}
	if strings.TrimSpace(input.ServiceName) != "" {
		clauses = append(clauses, "service_name = ?")
		args = append(args, strings.TrimSpace(input.ServiceName))
	}
	if input.ActiveOnly {
		clauses = append(clauses, "active = 1")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY heartbeat_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	services := []Service{}
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

func (s *Store) UpdateService(ctx context.Context, id string, patch ServicePatch) (Service, error) {
	sets := []string{}
	args := []any{}
	appendSet := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.ServiceName != nil {
		appendSet("service_name", strings.TrimSpace(*patch.ServiceName))
	}
	if patch.Active != nil {
		appendSet("active", boolToInt(*patch.Active))
	}
	if patch.Muted != nil {
		appendSet("muted", boolToInt(*patch.Muted))
	}
	if patch.Down != nil {
		appendSet("down", boolToInt(*patch.Down))
	}
	if patch.AlertInterval != nil {
		appendSet("alert_interval", *patch.AlertInterval)
	}
	if patch.Threshold != nil {
		appendSet("threshold", *patch.Threshold)
	}
	if patch.GracePeriodSeconds != nil {
		appendSet("grace_period_seconds", *patch.GracePeriodSeconds)
	}
	if patch.TeamID != nil {
		appendSet("team_id", nullIfEmpty(strings.TrimSpace(*patch.TeamID)))
	}
	if patch.Priority != nil {
		appendSet("priority", normalizePriority(*patch.Priority))
	}
	if patch.Runbook != nil {
		appendSet("runbook", nullIfEmpty(strings.TrimSpace(*patch.Runbook)))
	}
	if patch.MaxDurationMS != nil {
		appendSet("max_duration_ms", nullIfZeroInt64(*patch.MaxDurationMS))
	}
	if len(sets) == 0 {
		return s.GetServiceByID(ctx, id)
	}
	appendSet("updated_at_unix", time.Now().UTC().Unix())
	args = append(args, id)

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE services SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return Service{}, fmt.Errorf("update service: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return Service{}, ErrServiceNotFound
	}
	return s.GetServiceByID(ctx, id)
}

func (s *Store) SetServiceDown(ctx context.Context, id string, down bool) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE services SET down = ?, updated_at_unix = ? WHERE id = ?`,
		boolToInt(down), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set service down: %w", err)
	}
	return nil
}

// MarkServiceRecovered clears both down and muted, the close-alert path
// resets mute state on recovery.
func (s *Store) MarkServiceRecovered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE services SET down = 0, muted = 0, updated_at_unix = ? WHERE id = ?`,
		time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("mark service recovered: %w", err)
	}
	return nil
}

func (s *Store) SetServiceMuted(ctx context.Context, id string, muted bool) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE services SET muted = ?, updated_at_unix = ? WHERE id = ?`,
		boolToInt(muted), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set service muted: %w", err)
	}
	return nil
}

func (s *Store) CountServicesDown(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM services WHERE active = 1 AND down = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count services down: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// OverwriteService replaces every mutable column from a snapshot restore,
// preserving id and heartbeat_name.
func (s *Store) OverwriteService(ctx context.Context, service Service) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE services SET
			service_name = ?, active = ?, muted = ?, down = ?, alert_interval = ?,
			threshold = ?, grace_period_seconds = ?, team_id = ?, priority = ?,
			runbook = ?, max_duration_ms = ?, updated_at_unix = ?
		WHERE id = ?`,
		service.ServiceName,
		boolToInt(service.Active),
		boolToInt(service.Muted),
		boolToInt(service.Down),
		service.AlertInterval,
		service.Threshold,
		service.GracePeriodSeconds,
		nullIfEmpty(service.TeamID),
		normalizePriority(service.Priority),
		nullIfEmpty(service.Runbook),
		nullIfZeroInt64(service.MaxDurationMS),
		time.Now().UTC().Unix(),
		service.ID,
	)
	if err != nil {
		return fmt.Errorf("overwrite service: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (Service, error) {
	var (
		service       Service
		active        int
		muted         int
		down          int
		teamID        sql.NullString
		runbook       sql.NullString
		maxDurationMS sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(
		&service.ID,
		&service.HeartbeatName,
		&service.ServiceName,
		&active,
		&muted,
		&down,
		&service.AlertInterval,
		&service.Threshold,
		&service.GracePeriodSeconds,
		&teamID,
		&service.Priority,
		&runbook,
		&maxDurationMS,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Service{}, ErrServiceNotFound
	}
	if err != nil {
		return Service{}, fmt.Errorf("scan service: %w", err)
	}
	service.Active = active == 1
	service.Muted = muted == 1
	service.Down = down == 1
	service.TeamID = teamID.String
	service.Runbook = runbook.String
	service.MaxDurationMS = maxDurationMS.Int64
	service.CreatedAt = time.Unix(createdAt, 0).UTC()
	service.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return service, nil
}

func normalizePriority(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "p1", "p2", "p3", "p4":
		return strings.ToLower(strings.TrimSpace(raw))
	default:
		return "p3"
	}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

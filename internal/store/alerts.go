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

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	ID                  string
	ServiceID           string
	Active              bool
	AlertCycle          int
	ExternalReferenceID string
	CreatedAt           time.Time
	ClosedAt            time.Time
}

const alertColumns = `id, service_id, active, alert_cycle, external_reference_id,
	created_at_unix, closed_at_unix`

// ActiveAlert returns the single open alert for a service, or
// ErrAlertNotFound when the service is healthy.
func (s *Store) ActiveAlert(ctx context.Context, serviceID string) (Alert, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE service_id = ? AND active = 1
		ORDER BY created_at_unix DESC LIMIT 1`,
		serviceID,
	)
	return scanAlert(row)
}

func (s *Store) CreateAlert(ctx context.Context, serviceID string, at time.Time) (Alert, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	id := "alert-" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO alerts (id, service_id, active, alert_cycle, created_at_unix)
		VALUES (?, ?, 1, 1, ?)`,
		id, serviceID, at.UTC().Unix(),
	)
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return s.GetAlert(ctx, id)
}

func (s *Store) GetAlert(ctx context.Context, id string) (Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// IncrementAlertCycle bumps the cycle counter and returns the new value.
func (s *Store) IncrementAlertCycle(ctx context.Context, id string) (int, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alerts SET alert_cycle = alert_cycle + 1 WHERE id = ? AND active = 1`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("increment alert cycle: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, ErrAlertNotFound
	}
	var cycle int
	if err := s.db.QueryRowContext(ctx, `SELECT alert_cycle FROM alerts WHERE id = ?`, id).Scan(&cycle); err != nil {
		return 0, fmt.Errorf("read alert cycle: %w", err)
	}
	return cycle, nil
}

func (s *Store) SetAlertExternalReference(ctx context.Context, id, externalReferenceID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE alerts SET external_reference_id = ? WHERE id = ?`,
		nullIfEmpty(strings.TrimSpace(externalReferenceID)), id,
	)
	if err != nil {
		return fmt.Errorf("set alert external reference: %w", err)
	}
	return nil
}

func (s *Store) CloseAlert(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE alerts SET active = 0, closed_at_unix = ? WHERE id = ? AND active = 1`,
		at.UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("close alert: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type ListAlertsInput struct {
	ActiveOnly bool
	ServiceID  string
	Limit      int
}

func (s *Store) ListAlerts(ctx context.Context, input ListAlertsInput) ([]Alert, error) {
	limit := input.Limit
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	clauses := []string{}
	args := []any{}
	if input.ActiveOnly {
		clauses = append(clauses, "active = 1")
	}
	if strings.TrimSpace(input.ServiceID) != "" {
		clauses = append(clauses, "service_id = ?")
		args = append(args, strings.TrimSpace(input.ServiceID))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_unix DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (Alert, error) {
	var (
		alert       Alert
		active      int
		externalRef sql.NullString
		createdAt   int64
		closedAt    sql.NullInt64
	)
	err := row.Scan(&alert.ID, &alert.ServiceID, &active, &alert.AlertCycle, &externalRef, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	alert.Active = active == 1
	alert.ExternalReferenceID = externalRef.String
	alert.CreatedAt = time.Unix(createdAt, 0).UTC()
	alert.ClosedAt = timeFromUnix(closedAt)
	return alert, nil
}

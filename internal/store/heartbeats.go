package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	HeartbeatStatusUp        = "UP"
	HeartbeatStatusDown      = "DOWN"
	HeartbeatStatusStarted   = "STARTED"
	HeartbeatStatusCompleted = "COMPLETED"
	HeartbeatStatusFailed    = "FAILED"
)

type HeartbeatEvent struct {
	ID        int64
	ServiceID string
	Status    string
	RunID     string
	Time      time.Time
}

func ValidHeartbeatStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case HeartbeatStatusUp, HeartbeatStatusDown, HeartbeatStatusStarted,
		HeartbeatStatusCompleted, HeartbeatStatusFailed:
		return true
	default:
		return false
	}
}

func (s *Store) InsertHeartbeatEvent(ctx context.Context, serviceID, status, runID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO heartbeat_events (service_id, status, run_id, time_unix) VALUES (?, ?, ?, ?)`,
		serviceID,
		strings.ToUpper(strings.TrimSpace(status)),
		nullIfEmpty(strings.TrimSpace(runID)),
		at.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert heartbeat event: %w", err)
	}
	return nil
}

// LatestHeartbeatTime returns the zero time when the service has never
// heartbeated.
func (s *Store) LatestHeartbeatTime(ctx context.Context, serviceID string) (time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT MAX(time_unix) FROM heartbeat_events WHERE service_id = ?`,
		serviceID,
	).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest heartbeat time: %w", err)
	}
	return timeFromUnix(latest), nil
}

func (s *Store) CountHeartbeatsSince(ctx context.Context, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM heartbeat_events WHERE service_id = ? AND time_unix >= ?`,
		serviceID, since.UTC().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count heartbeats: %w", err)
	}
	return count, nil
}

// CountHeartbeatsMatching counts events at or after since, optionally
// filtered by status. Used by condition steps.
func (s *Store) CountHeartbeatsMatching(ctx context.Context, serviceID string, since time.Time, status string) (int, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	query := `SELECT COUNT(*) FROM heartbeat_events WHERE service_id = ? AND time_unix >= ?`
	args := []any{serviceID, since.UTC().Unix()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count heartbeats matching: %w", err)
	}
	return count, nil
}

func (s *Store) ListHeartbeatEvents(ctx context.Context, serviceID string, maxCount int) ([]HeartbeatEvent, error) {
	if maxCount < 1 {
		maxCount = 10
	}
	if maxCount > 250 {
		maxCount = 250
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, service_id, status, run_id, time_unix
		FROM heartbeat_events WHERE service_id = ?
		ORDER BY time_unix DESC, id DESC LIMIT ?`,
		serviceID, maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("list heartbeat events: %w", err)
	}
	defer rows.Close()

	events := []HeartbeatEvent{}
	for rows.Next() {
		var (
			event    HeartbeatEvent
			runID    sql.NullString
			timeUnix int64
		)
		if err := rows.Scan(&event.ID, &event.ServiceID, &event.Status, &runID, &timeUnix); err != nil {
			return nil, fmt.Errorf("scan heartbeat event: %w", err)
		}
		event.RunID = runID.String
		event.Time = time.Unix(timeUnix, 0).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

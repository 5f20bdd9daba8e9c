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

var (
	ErrSnapshotNotFound        = errors.New("snapshot not found")
	ErrSnapshotAlreadyRestored = errors.New("snapshot already restored")
)

type Snapshot struct {
	ID           string
	ServiceID    string
	SnapshotJSON string
	ActionType   string
	Actor        string
	CreatedAt    time.Time
	RestoredAt   time.Time
}

func (s *Store) InsertSnapshot(ctx context.Context, serviceID, snapshotJSON, actionType, actor string) (string, error) {
	id := "snap-" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO snapshots (id, service_id, snapshot_json, action_type, actor, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, serviceID, snapshotJSON, strings.TrimSpace(actionType), strings.TrimSpace(actor),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, service_id, snapshot_json, action_type, actor, created_at_unix, restored_at_unix
		FROM snapshots WHERE id = ?`,
		id,
	)
	return scanSnapshot(row)
}

// MarkSnapshotRestored enforces restore-once: the update only applies when
// restored_at is still null.
func (s *Store) MarkSnapshotRestored(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE snapshots SET restored_at_unix = ? WHERE id = ? AND restored_at_unix IS NULL`,
		at.UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("mark snapshot restored: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		if _, err := s.GetSnapshot(ctx, id); errors.Is(err, ErrSnapshotNotFound) {
			return ErrSnapshotNotFound
		}
		return ErrSnapshotAlreadyRestored
	}
	return nil
}

type ListSnapshotsInput struct {
	ServiceID  string
	ActionType string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
	Offset     int
}

func (s *Store) ListSnapshots(ctx context.Context, input ListSnapshotsInput) ([]Snapshot, error) {
	limit := input.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, service_id, snapshot_json, action_type, actor, created_at_unix, restored_at_unix FROM snapshots`
	clauses := []string{}
	args := []any{}
	if strings.TrimSpace(input.ServiceID) != "" {
		clauses = append(clauses, "service_id = ?")
		args = append(args, strings.TrimSpace(input.ServiceID))
	}
	if strings.TrimSpace(input.ActionType) != "" {
		clauses = append(clauses, "action_type = ?")
		args = append(args, strings.TrimSpace(input.ActionType))
	}
	if !input.StartDate.IsZero() {
		clauses = append(clauses, "created_at_unix >= ?")
		args = append(args, input.StartDate.UTC().Unix())
	}
	if !input.EndDate.IsZero() {
		clauses = append(clauses, "created_at_unix <= ?")
		args = append(args, input.EndDate.UTC().Unix())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_unix DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snapshot   Snapshot
		createdAt  int64
		restoredAt sql.NullInt64
	)
	err := row.Scan(&snapshot.ID, &snapshot.ServiceID, &snapshot.SnapshotJSON, &snapshot.ActionType, &snapshot.Actor, &createdAt, &restoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snapshot.CreatedAt = time.Unix(createdAt, 0).UTC()
	snapshot.RestoredAt = timeFromUnix(restoredAt)
	return snapshot, nil
}

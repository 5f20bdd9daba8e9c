package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrJobRunExists   = errors.New("job run already recorded")
	ErrJobRunNotFound = errors.New("job run not found")
)

const (
	JobRunStatusStarted      = "STARTED"
	JobRunStatusCompleted    = "COMPLETED"
	JobRunStatusFailed       = "FAILED"
	JobRunStatusStaleAlerted = "STALE_ALERTED"
)

type JobRun struct {
	ID          int64
	ServiceID   string
	RunID       string
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMS  int64
	HasDuration bool
}

func (s *Store) InsertJobStart(ctx context.Context, serviceID, runID string, startedAt time.Time) error {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_runs (service_id, run_id, status, started_at_unix)
		VALUES (?, ?, ?, ?)`,
		serviceID, strings.TrimSpace(runID), JobRunStatusStarted, startedAt.UTC().Unix(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrJobRunExists
		}
		return fmt.Errorf("insert job start: %w", err)
	}
	return nil
}

func (s *Store) GetJobRun(ctx context.Context, serviceID, runID string) (JobRun, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, service_id, run_id, status, started_at_unix, completed_at_unix, duration_ms
		FROM job_runs WHERE service_id = ? AND run_id = ?`,
		serviceID, strings.TrimSpace(runID),
	)
	return scanJobRun(row)
}

// CompleteJobRun closes a STARTED row in place. Returns ErrJobRunNotFound
// when no open row matches.
func (s *Store) CompleteJobRun(ctx context.Context, serviceID, runID, status string, completedAt time.Time, durationMS int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE job_runs SET status = ?, completed_at_unix = ?, duration_ms = ?
		WHERE service_id = ? AND run_id = ? AND status = ?`,
		status, completedAt.UTC().Unix(), durationMS,
		serviceID, strings.TrimSpace(runID), JobRunStatusStarted,
	)
	if err != nil {
		return fmt.Errorf("complete job run: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobRunNotFound
	}
	return nil
}

// InsertCompletionOnlyRun records a completion that never signalled a start.
// Duration is stored as zero with started_at mirroring completed_at.
func (s *Store) InsertCompletionOnlyRun(ctx context.Context, serviceID, runID, status string, completedAt time.Time) error {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_runs (service_id, run_id, status, started_at_unix, completed_at_unix, duration_ms)
		VALUES (?, ?, ?, ?, ?, 0)`,
		serviceID, strings.TrimSpace(runID), status,
		completedAt.UTC().Unix(), completedAt.UTC().Unix(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrJobRunExists
		}
		return fmt.Errorf("insert completion-only run: %w", err)
	}
	return nil
}

// ListCompletedDurations returns durations of the most recent completed runs,
// newest first. Null durations are excluded.
func (s *Store) ListCompletedDurations(ctx context.Context, serviceID string, maxRuns int) ([]int64, error) {
	if maxRuns < 1 {
		maxRuns = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT duration_ms FROM job_runs
		WHERE service_id = ? AND status IN (?, ?) AND duration_ms IS NOT NULL
		ORDER BY completed_at_unix DESC LIMIT ?`,
		serviceID, JobRunStatusCompleted, JobRunStatusFailed, maxRuns,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed durations: %w", err)
	}
	defer rows.Close()

	durations := []int64{}
	for rows.Next() {
		var duration int64
		if err := rows.Scan(&duration); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		durations = append(durations, duration)
	}
	return durations, rows.Err()
}

// ListOpenRunsStartedBefore returns STARTED rows older than the cutoff for
// stale detection.
func (s *Store) ListOpenRunsStartedBefore(ctx context.Context, cutoff time.Time) ([]JobRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, service_id, run_id, status, started_at_unix, completed_at_unix, duration_ms
		FROM job_runs WHERE status = ? AND started_at_unix <= ?
		ORDER BY started_at_unix`,
		JobRunStatusStarted, cutoff.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list open runs: %w", err)
	}
	defer rows.Close()

	runs := []JobRun{}
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) MarkJobRunStaleAlerted(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE job_runs SET status = ? WHERE id = ? AND status = ?`,
		JobRunStatusStaleAlerted, id, JobRunStatusStarted,
	)
	if err != nil {
		return fmt.Errorf("mark job run stale alerted: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrJobRunNotFound
	}
	return nil
}

func scanJobRun(row rowScanner) (JobRun, error) {
	var (
		run         JobRun
		completedAt sql.NullInt64
		durationMS  sql.NullInt64
		startedAt   int64
	)
	err := row.Scan(&run.ID, &run.ServiceID, &run.RunID, &run.Status, &startedAt, &completedAt, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRun{}, ErrJobRunNotFound
	}
	if err != nil {
		return JobRun{}, fmt.Errorf("scan job run: %w", err)
	}
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.CompletedAt = timeFromUnix(completedAt)
	run.DurationMS = durationMS.Int64
	run.HasDuration = durationMS.Valid
	return run, nil
}

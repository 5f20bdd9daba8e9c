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
	ErrExecutionNotFound  = errors.New("playbook execution not found")
	ErrStepResultNotFound = errors.New("step result not found")
)

const (
	ExecutionStatusPendingApproval = "pending_approval"
	ExecutionStatusRunning         = "running"
	ExecutionStatusWaiting         = "waiting"
	ExecutionStatusCompleted       = "completed"
	ExecutionStatusFailed          = "failed"
	ExecutionStatusCancelled       = "cancelled"
)

const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

type PlaybookExecution struct {
	ID               string
	PlaybookID       string
	ServiceID        string
	Status           string
	CurrentStep      int
	Context          map[string]string
	ResumeAt         time.Time
	ApprovalDeadline time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FinishedAt       time.Time
}

func (e PlaybookExecution) Terminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

type StepResult struct {
	ID           string
	ExecutionID  string
	StepName     string
	StepIndex    int
	Status       string
	Output       string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type CreateExecutionInput struct {
	PlaybookID       string
	ServiceID        string
	Status           string
	Context          map[string]string
	ApprovalDeadline time.Time
}

const executionColumns = `id, playbook_id, service_id, status, current_step,
	context_json, resume_at_unix, approval_deadline_unix,
	created_at_unix, updated_at_unix, finished_at_unix`

func (s *Store) CreateExecution(ctx context.Context, input CreateExecutionInput) (PlaybookExecution, error) {
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = ExecutionStatusPendingApproval
	}
	contextJSON, err := json.Marshal(nonNilContext(input.Context))
	if err != nil {
		return PlaybookExecution{}, fmt.Errorf("encode execution context: %w", err)
	}
	nowUnix := time.Now().UTC().Unix()
	id := "exec-" + uuid.NewString()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO playbook_executions (
			id, playbook_id, service_id, status, current_step, context_json,
			approval_deadline_unix, created_at_unix, updated_at_unix
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		id,
		input.PlaybookID,
		nullIfEmpty(strings.TrimSpace(input.ServiceID)),
		status,
		string(contextJSON),
		nullIfZeroTime(input.ApprovalDeadline),
		nowUnix,
		nowUnix,
	)
	if err != nil {
		return PlaybookExecution{}, fmt.Errorf("insert playbook execution: %w", err)
	}
	return s.GetExecution(ctx, id)
}

func (s *Store) GetExecution(ctx context.Context, id string) (PlaybookExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM playbook_executions WHERE id = ?`, id)
	return scanExecution(row)
}

// UpdateExecutionStatus performs a guarded transition: the update applies only
// when the current status is one of fromStatuses. Returns the reloaded row and
// whether the transition happened.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id, toStatus string, fromStatuses ...string) (PlaybookExecution, bool, error) {
	nowUnix := time.Now().UTC().Unix()
	query := `UPDATE playbook_executions SET status = ?, updated_at_unix = ?`
	args := []any{toStatus, nowUnix}
	switch toStatus {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		query += `, finished_at_unix = ?`
		args = append(args, nowUnix)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if len(fromStatuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fromStatuses)), ",")
		query += ` AND status IN (` + placeholders + `)`
		for _, from := range fromStatuses {
			args = append(args, from)
		}
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return PlaybookExecution{}, false, fmt.Errorf("update execution status: %w", err)
	}
	affected, _ := result.RowsAffected()
	execution, err := s.GetExecution(ctx, id)
	if err != nil {
		return PlaybookExecution{}, false, err
	}
	return execution, affected > 0, nil
}

// AdvanceExecutionStep persists the post-step state: new current_step, the
// possibly updated context, and clears any resume marker.
func (s *Store) AdvanceExecutionStep(ctx context.Context, id string, currentStep int, execContext map[string]string) error {
	contextJSON, err := json.Marshal(nonNilContext(execContext))
	if err != nil {
		return fmt.Errorf("encode execution context: %w", err)
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE playbook_executions SET current_step = ?, context_json = ?, resume_at_unix = NULL, updated_at_unix = ?
		WHERE id = ?`,
		currentStep, string(contextJSON), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("advance execution step: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// MarkExecutionWaiting records the wait-step suspension point.
func (s *Store) MarkExecutionWaiting(ctx context.Context, id string, resumeAt time.Time) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE playbook_executions SET status = ?, resume_at_unix = ?, updated_at_unix = ?
		WHERE id = ? AND status = ?`,
		ExecutionStatusWaiting, resumeAt.UTC().Unix(), time.Now().UTC().Unix(),
		id, ExecutionStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark execution waiting: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// ListResumableExecutions returns waiting executions whose resume time has
// passed plus running executions not touched since the stale cutoff (orphaned
// by a restart).
func (s *Store) ListResumableExecutions(ctx context.Context, now time.Time, runningStaleBefore time.Time, limit int) ([]PlaybookExecution, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+executionColumns+` FROM playbook_executions
		WHERE (status = ? AND resume_at_unix IS NOT NULL AND resume_at_unix <= ?)
			OR (status = ? AND updated_at_unix <= ?)
		ORDER BY updated_at_unix LIMIT ?`,
		ExecutionStatusWaiting, now.UTC().Unix(),
		ExecutionStatusRunning, runningStaleBefore.UTC().Unix(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list resumable executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListExpiredApprovals returns pending_approval executions whose auto-approve
// deadline has passed.
func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]PlaybookExecution, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+executionColumns+` FROM playbook_executions
		WHERE status = ? AND approval_deadline_unix IS NOT NULL AND approval_deadline_unix <= ?
		ORDER BY approval_deadline_unix LIMIT ?`,
		ExecutionStatusPendingApproval, now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired approvals: %w", err)
	}
	return collectExecutions(rows)
}

// CountExecutionsSince is the circuit-breaker admission read.
func (s *Store) CountExecutionsSince(ctx context.Context, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM playbook_executions WHERE service_id = ? AND created_at_unix >= ?`,
		serviceID, since.UTC().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count executions since: %w", err)
	}
	return count, nil
}

type ListExecutionsInput struct {
	ServiceID  string
	PlaybookID string
	Limit      int
}

func (s *Store) ListExecutions(ctx context.Context, input ListExecutionsInput) ([]PlaybookExecution, error) {
	limit := input.Limit
	if limit < 1 {
		limit = 50
	}
	query := `SELECT ` + executionColumns + ` FROM playbook_executions`
	clauses := []string{}
	args := []any{}
	if strings.TrimSpace(input.ServiceID) != "" {
		clauses = append(clauses, "service_id = ?")
		args = append(args, strings.TrimSpace(input.ServiceID))
	}
	if strings.TrimSpace(input.PlaybookID) != "" {
		clauses = append(clauses, "playbook_id = ?")
		args = append(args, strings.TrimSpace(input.PlaybookID))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_unix DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

func (s *Store) InsertStepResult(ctx context.Context, result StepResult) (string, error) {
	id := "step-" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO step_results (id, execution_id, step_name, step_index, status, output, error_message, started_at_unix, finished_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		result.ExecutionID,
		result.StepName,
		result.StepIndex,
		result.Status,
		truncateStepOutput(result.Output),
		result.ErrorMessage,
		nullIfZeroTime(result.StartedAt),
		nullIfZeroTime(result.FinishedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert step result: %w", err)
	}
	return id, nil
}

func (s *Store) FinishStepResult(ctx context.Context, id, status, output, errorMessage string, finishedAt time.Time) error {
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE step_results SET status = ?, output = ?, error_message = ?, finished_at_unix = ?
		WHERE id = ?`,
		status, truncateStepOutput(output), errorMessage, finishedAt.UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("finish step result: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrStepResultNotFound
	}
	return nil
}

func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]StepResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, execution_id, step_name, step_index, status, output, error_message, started_at_unix, finished_at_unix
		FROM step_results WHERE execution_id = ? ORDER BY step_index, started_at_unix`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	results := []StepResult{}
	for rows.Next() {
		var (
			result     StepResult
			startedAt  sql.NullInt64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&result.ID, &result.ExecutionID, &result.StepName, &result.StepIndex, &result.Status, &result.Output, &result.ErrorMessage, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		result.StartedAt = timeFromUnix(startedAt)
		result.FinishedAt = timeFromUnix(finishedAt)
		results = append(results, result)
	}
	return results, rows.Err()
}

const maxStepOutputBytes = 4096

func truncateStepOutput(output string) string {
	if len(output) <= maxStepOutputBytes {
		return output
	}
	return output[:maxStepOutputBytes] + "...[truncated]"
}

func collectExecutions(rows *sql.Rows) ([]PlaybookExecution, error) {
	defer rows.Close()
	executions := []PlaybookExecution{}
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func scanExecution(row rowScanner) (PlaybookExecution, error) {
	var (
		execution        PlaybookExecution
		serviceID        sql.NullString
		contextJSON      string
		resumeAt         sql.NullInt64
		approvalDeadline sql.NullInt64
		createdAt        int64
		updatedAt        int64
		finishedAt       sql.NullInt64
	)
	err := row.Scan(
		&execution.ID,
		&execution.PlaybookID,
		&serviceID,
		&execution.Status,
		&execution.CurrentStep,
		&contextJSON,
		&resumeAt,
		&approvalDeadline,
		&createdAt,
		&updatedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PlaybookExecution{}, ErrExecutionNotFound
	}
	if err != nil {
		return PlaybookExecution{}, fmt.Errorf("scan execution: %w", err)
	}
	execution.ServiceID = serviceID.String
	execution.Context = map[string]string{}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &execution.Context); err != nil {
			return PlaybookExecution{}, fmt.Errorf("decode execution context: %w", err)
		}
	}
	execution.ResumeAt = timeFromUnix(resumeAt)
	execution.ApprovalDeadline = timeFromUnix(approvalDeadline)
	execution.CreatedAt = time.Unix(createdAt, 0).UTC()
	execution.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	execution.FinishedAt = timeFromUnix(finishedAt)
	return execution, nil
}

func nonNilContext(values map[string]string) map[string]string {
	if values == nil {
		return map[string]string{}
	}
	return values
}

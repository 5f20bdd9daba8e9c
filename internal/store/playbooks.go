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
	ErrPlaybookNotFound = errors.New("playbook not found")
	ErrScriptNotFound   = errors.New("registered script not found")
	ErrTriggerNotFound  = errors.New("playbook trigger not found")
)

type Playbook struct {
	ID          string
	Name        string
	Description string
	YAMLContent string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type PlaybookTrigger struct {
	ID                  string
	PlaybookID          string
	ServicePattern      string
	ConsecutiveFailures int
	CreatedAt           time.Time
}

type RegisteredScript struct {
	Name           string
	Content        string
	Interpreter    string
	TimeoutSeconds int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertPlaybook creates the playbook or, when the name exists and the YAML
// changed, replaces the content and bumps the version.
func (s *Store) UpsertPlaybook(ctx context.Context, name, description, yamlContent string) (Playbook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Playbook{}, fmt.Errorf("playbook name is required")
	}
	nowUnix := time.Now().UTC().Unix()

	existing, err := s.GetPlaybookByName(ctx, name)
	if err != nil && !errors.Is(err, ErrPlaybookNotFound) {
		return Playbook{}, err
	}
	if err == nil {
		if existing.YAMLContent == yamlContent && existing.Description == strings.TrimSpace(description) {
			return existing, nil
		}
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE playbooks SET description = ?, yaml_content = ?, version = version + 1, updated_at_unix = ?
			WHERE id = ?`,
			strings.TrimSpace(description), yamlContent, nowUnix, existing.ID,
		)
		if err != nil {
			return Playbook{}, fmt.Errorf("update playbook: %w", err)
		}
		return s.GetPlaybook(ctx, existing.ID)
	}

	id := "pb-" + uuid.NewString()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO playbooks (id, name, description, yaml_content, version, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, name, strings.TrimSpace(description), yamlContent, nowUnix, nowUnix,
	)
	if err != nil {
		return Playbook{}, fmt.Errorf("insert playbook: %w", err)
	}
	return s.GetPlaybook(ctx, id)
}

func (s *Store) GetPlaybook(ctx context.Context, id string) (Playbook, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, description, yaml_content, version, created_at_unix, updated_at_unix
		FROM playbooks WHERE id = ?`,
		id,
	)
	return scanPlaybook(row)
}

func (s *Store) GetPlaybookByName(ctx context.Context, name string) (Playbook, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, description, yaml_content, version, created_at_unix, updated_at_unix
		FROM playbooks WHERE name = ?`,
		strings.TrimSpace(name),
	)
	return scanPlaybook(row)
}

func (s *Store) ListPlaybooks(ctx context.Context) ([]Playbook, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, description, yaml_content, version, created_at_unix, updated_at_unix
		FROM playbooks ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	defer rows.Close()

	playbooks := []Playbook{}
	for rows.Next() {
		playbook, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		playbooks = append(playbooks, playbook)
	}
	return playbooks, rows.Err()
}

func (s *Store) DeletePlaybook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM playbooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playbook: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrPlaybookNotFound
	}
	return nil
}

func (s *Store) CreateTrigger(ctx context.Context, playbookID, servicePattern string, consecutiveFailures int) (PlaybookTrigger, error) {
	servicePattern = strings.TrimSpace(servicePattern)
	if servicePattern == "" {
		return PlaybookTrigger{}, fmt.Errorf("service pattern is required")
	}
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	id := "trg-" + uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO playbook_triggers (id, playbook_id, service_pattern, consecutive_failures, created_at_unix)
		VALUES (?, ?, ?, ?, ?)`,
		id, playbookID, servicePattern, consecutiveFailures, time.Now().UTC().Unix(),
	)
	if err != nil {
		return PlaybookTrigger{}, fmt.Errorf("insert playbook trigger: %w", err)
	}
	return PlaybookTrigger{
		ID:                  id,
		PlaybookID:          playbookID,
		ServicePattern:      servicePattern,
		ConsecutiveFailures: consecutiveFailures,
		CreatedAt:           time.Now().UTC(),
	}, nil
}

func (s *Store) ListTriggers(ctx context.Context) ([]PlaybookTrigger, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, playbook_id, service_pattern, consecutive_failures, created_at_unix
		FROM playbook_triggers ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list playbook triggers: %w", err)
	}
	defer rows.Close()

	triggers := []PlaybookTrigger{}
	for rows.Next() {
		var (
			trigger   PlaybookTrigger
			createdAt int64
		)
		if err := rows.Scan(&trigger.ID, &trigger.PlaybookID, &trigger.ServicePattern, &trigger.ConsecutiveFailures, &createdAt); err != nil {
			return nil, fmt.Errorf("scan playbook trigger: %w", err)
		}
		trigger.CreatedAt = time.Unix(createdAt, 0).UTC()
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM playbook_triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playbook trigger: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

func (s *Store) UpsertScript(ctx context.Context, script RegisteredScript) error {
	name := strings.TrimSpace(script.Name)
	if name == "" {
		return fmt.Errorf("script name is required")
	}
	interpreter := strings.ToLower(strings.TrimSpace(script.Interpreter))
	if interpreter != "python" && interpreter != "bash" {
		return fmt.Errorf("unsupported script interpreter %q", script.Interpreter)
	}
	timeout := script.TimeoutSeconds
	if timeout < 1 {
		timeout = 30
	}
	nowUnix := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO registered_scripts (name, content, interpreter, timeout_seconds, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			content = excluded.content,
			interpreter = excluded.interpreter,
			timeout_seconds = excluded.timeout_seconds,
			updated_at_unix = excluded.updated_at_unix`,
		name, script.Content, interpreter, timeout, nowUnix, nowUnix,
	)
	if err != nil {
		return fmt.Errorf("upsert registered script: %w", err)
	}
	return nil
}

func (s *Store) GetScript(ctx context.Context, name string) (RegisteredScript, error) {
	var (
		script    RegisteredScript
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT name, content, interpreter, timeout_seconds, created_at_unix, updated_at_unix
		FROM registered_scripts WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&script.Name, &script.Content, &script.Interpreter, &script.TimeoutSeconds, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RegisteredScript{}, ErrScriptNotFound
	}
	if err != nil {
		return RegisteredScript{}, fmt.Errorf("get registered script: %w", err)
	}
	script.CreatedAt = time.Unix(createdAt, 0).UTC()
	script.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return script, nil
}

func scanPlaybook(row rowScanner) (Playbook, error) {
	var (
		playbook  Playbook
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&playbook.ID, &playbook.Name, &playbook.Description, &playbook.YAMLContent, &playbook.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Playbook{}, ErrPlaybookNotFound
	}
	if err != nil {
		return Playbook{}, fmt.Errorf("scan playbook: %w", err)
	}
	playbook.CreatedAt = time.Unix(createdAt, 0).UTC()
	playbook.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return playbook, nil
}

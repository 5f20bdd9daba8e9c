package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			slack_channel_id TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			heartbeat_name TEXT NOT NULL COLLATE NOCASE UNIQUE,
			service_name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			muted INTEGER NOT NULL DEFAULT 0,
			down INTEGER NOT NULL DEFAULT 0,
			alert_interval INTEGER NOT NULL DEFAULT 5,
			threshold INTEGER NOT NULL DEFAULT 1,
			grace_period_seconds INTEGER NOT NULL DEFAULT 0,
			team_id TEXT,
			priority TEXT NOT NULL DEFAULT 'p3',
			runbook TEXT,
			max_duration_ms INTEGER,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(team_id) REFERENCES teams(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS heartbeat_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			status TEXT NOT NULL,
			run_id TEXT,
			time_unix INTEGER NOT NULL,
			FOREIGN KEY(service_id) REFERENCES services(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_heartbeat_events_service_time
			ON heartbeat_events(service_id, time_unix);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			alert_cycle INTEGER NOT NULL DEFAULT 1,
			external_reference_id TEXT,
			created_at_unix INTEGER NOT NULL,
			closed_at_unix INTEGER,
			FOREIGN KEY(service_id) REFERENCES services(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_service_active ON alerts(service_id, active);`,
		`CREATE TABLE IF NOT EXISTS job_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at_unix INTEGER NOT NULL,
			completed_at_unix INTEGER,
			duration_ms INTEGER,
			UNIQUE(service_id, run_id),
			FOREIGN KEY(service_id) REFERENCES services(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS playbooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			yaml_content TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS playbook_triggers (
			id TEXT PRIMARY KEY,
			playbook_id TEXT NOT NULL,
			service_pattern TEXT NOT NULL,
			consecutive_failures INTEGER NOT NULL DEFAULT 1,
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(playbook_id) REFERENCES playbooks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS playbook_executions (
			id TEXT PRIMARY KEY,
			playbook_id TEXT NOT NULL,
			service_id TEXT,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 0,
			context_json TEXT NOT NULL DEFAULT '{}',
			resume_at_unix INTEGER,
			approval_deadline_unix INTEGER,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			finished_at_unix INTEGER,
			FOREIGN KEY(playbook_id) REFERENCES playbooks(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_service_created
			ON playbook_executions(service_id, created_at_unix);`,
		`CREATE TABLE IF NOT EXISTS step_results (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			started_at_unix INTEGER,
			finished_at_unix INTEGER,
			FOREIGN KEY(execution_id) REFERENCES playbook_executions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS registered_scripts (
			name TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			interpreter TEXT NOT NULL,
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL,
			tag BLOB NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			headers_json TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			service_id TEXT,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			response_code INTEGER,
			response_body TEXT,
			created_at_unix INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			FOREIGN KEY(webhook_id) REFERENCES webhooks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS maintenance_windows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			start_at_unix INTEGER NOT NULL,
			end_at_unix INTEGER NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			recurrence TEXT,
			service_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notification_targets (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			type TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 100,
			enabled INTEGER NOT NULL DEFAULT 1,
			period TEXT NOT NULL DEFAULT 'always',
			created_at_unix INTEGER NOT NULL,
			FOREIGN KEY(service_id) REFERENCES services(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			action_type TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			created_at_unix INTEGER NOT NULL,
			restored_at_unix INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_hash TEXT NOT NULL UNIQUE,
			endpoint_classes TEXT NOT NULL DEFAULT 'heartbeat,management',
			heartbeat_limit INTEGER,
			management_limit INTEGER,
			created_at_unix INTEGER NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullIfZeroTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Unix()
}

func timeFromUnix(value sql.NullInt64) time.Time {
	if !value.Valid || value.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(value.Int64, 0).UTC()
}

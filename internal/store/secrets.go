package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSecretNotFound = errors.New("secret not found")

type SecretRow struct {
	Name        string
	Ciphertext  []byte
	Nonce       []byte
	Tag         []byte
	Description string
	Actor       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) UpsertSecret(ctx context.Context, row SecretRow) error {
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	nowUnix := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO secrets (name, ciphertext, nonce, tag, description, actor, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			tag = excluded.tag,
			description = excluded.description,
			actor = excluded.actor,
			updated_at_unix = excluded.updated_at_unix`,
		name, row.Ciphertext, row.Nonce, row.Tag,
		strings.TrimSpace(row.Description), strings.TrimSpace(row.Actor),
		nowUnix, nowUnix,
	)
	if err != nil {
		return fmt.Errorf("upsert secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, name string) (SecretRow, error) {
	var (
		row       SecretRow
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT name, ciphertext, nonce, tag, description, actor, created_at_unix, updated_at_unix
		FROM secrets WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&row.Name, &row.Ciphertext, &row.Nonce, &row.Tag, &row.Description, &row.Actor, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SecretRow{}, ErrSecretNotFound
	}
	if err != nil {
		return SecretRow{}, fmt.Errorf("get secret: %w", err)
	}
	row.CreatedAt = time.Unix(createdAt, 0).UTC()
	row.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return row, nil
}

// ListSecretNames returns metadata only, ciphertext never leaves the store
// through list calls.
func (s *Store) ListSecretNames(ctx context.Context) ([]SecretRow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name, description, actor, created_at_unix, updated_at_unix FROM secrets ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	secrets := []SecretRow{}
	for rows.Next() {
		var (
			row       SecretRow
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&row.Name, &row.Description, &row.Actor, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		row.CreatedAt = time.Unix(createdAt, 0).UTC()
		row.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		secrets = append(secrets, row)
	}
	return secrets, rows.Err()
}

func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrSecretNotFound
	}
	return nil
}

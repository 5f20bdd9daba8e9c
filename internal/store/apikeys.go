package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

type APIKey struct {
	ID              string
	Name            string
	EndpointClasses []string
	HeartbeatLimit  int
	ManagementLimit int
	CreatedAt       time.Time
}

func (k APIKey) AllowsClass(class string) bool {
	for _, allowed := range k.EndpointClasses {
		if allowed == class {
			return true
		}
	}
	return false
}

// CreateAPIKey stores only the SHA-256 of the secret and returns the row.
func (s *Store) CreateAPIKey(ctx context.Context, name, secret string, endpointClasses []string, heartbeatLimit, managementLimit int) (APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return APIKey{}, fmt.Errorf("api key name is required")
	}
	if strings.TrimSpace(secret) == "" {
		return APIKey{}, fmt.Errorf("api key secret is required")
	}
	if len(endpointClasses) == 0 {
		endpointClasses = []string{"heartbeat", "management"}
	}
	id := "key-" + uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO api_keys (id, name, secret_hash, endpoint_classes, heartbeat_limit, management_limit, created_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, HashAPIKeySecret(secret),
		strings.Join(endpointClasses, ","),
		nullIfZeroInt64(int64(heartbeatLimit)),
		nullIfZeroInt64(int64(managementLimit)),
		now.Unix(),
	)
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return APIKey{
		ID:              id,
		Name:            name,
		EndpointClasses: endpointClasses,
		HeartbeatLimit:  heartbeatLimit,
		ManagementLimit: managementLimit,
		CreatedAt:       now,
	}, nil
}

func (s *Store) LookupAPIKeyBySecret(ctx context.Context, secret string) (APIKey, error) {
	var (
		key             APIKey
		classes         string
		heartbeatLimit  sql.NullInt64
		managementLimit sql.NullInt64
		createdAt       int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, endpoint_classes, heartbeat_limit, management_limit, created_at_unix
		FROM api_keys WHERE secret_hash = ?`,
		HashAPIKeySecret(secret),
	).Scan(&key.ID, &key.Name, &classes, &heartbeatLimit, &managementLimit, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("lookup api key: %w", err)
	}
	for _, class := range strings.Split(classes, ",") {
		class = strings.TrimSpace(class)
		if class != "" {
			key.EndpointClasses = append(key.EndpointClasses, class)
		}
	}
	key.HeartbeatLimit = int(heartbeatLimit.Int64)
	key.ManagementLimit = int(managementLimit.Int64)
	key.CreatedAt = time.Unix(createdAt, 0).UTC()
	return key, nil
}

func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

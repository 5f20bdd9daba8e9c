package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqlStore, err := New(filepath.Join(t.TempDir(), "medic-test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlStore
}

func seedService(t *testing.T, sqlStore *Store, heartbeatName string) Service {
	t.Helper()
	service, err := sqlStore.CreateService(context.Background(), CreateServiceInput{
		HeartbeatName: heartbeatName,
		ServiceName:   heartbeatName,
		AlertInterval: 5,
		Threshold:     1,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return service
}

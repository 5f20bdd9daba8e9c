package store

import (
	"context"
	"errors"
	"testing"
)

func TestServiceRegistrationAndLookup(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	created, err := sqlStore.CreateService(ctx, CreateServiceInput{
		HeartbeatName: "Payments-Worker",
		ServiceName:   "payments",
		AlertInterval: 10,
		Threshold:     2,
		Priority:      "p1",
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if created.AlertInterval != 10 || created.Threshold != 2 {
		t.Fatalf("unexpected interval/threshold: %d/%d", created.AlertInterval, created.Threshold)
	}
	if created.Priority != "p1" {
		t.Fatalf("expected p1 priority, got %s", created.Priority)
	}

	// Heartbeat names resolve case-insensitively.
	loaded, err := sqlStore.GetServiceByHeartbeatName(ctx, "payments-worker")
	if err != nil {
		t.Fatalf("lookup by heartbeat name: %v", err)
	}
	if loaded.ID != created.ID {
		t.Fatalf("expected id %s, got %s", created.ID, loaded.ID)
	}
}

func TestServicePatchUpdatesOnlyPresentFields(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")

	muted := true
	interval := 15
	updated, err := sqlStore.UpdateService(ctx, service.ID, ServicePatch{
		Muted:         &muted,
		AlertInterval: &interval,
	})
	if err != nil {
		t.Fatalf("update service: %v", err)
	}
	if !updated.Muted {
		t.Fatal("expected muted service")
	}
	if updated.AlertInterval != 15 {
		t.Fatalf("expected alert_interval=15, got %d", updated.AlertInterval)
	}
	if updated.Threshold != service.Threshold {
		t.Fatalf("threshold changed unexpectedly: %d", updated.Threshold)
	}
	if updated.ServiceName != service.ServiceName {
		t.Fatalf("service name changed unexpectedly: %s", updated.ServiceName)
	}
}

func TestServiceRecoveryClearsMute(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")

	if err := sqlStore.SetServiceDown(ctx, service.ID, true); err != nil {
		t.Fatalf("set down: %v", err)
	}
	if err := sqlStore.SetServiceMuted(ctx, service.ID, true); err != nil {
		t.Fatalf("set muted: %v", err)
	}
	if err := sqlStore.MarkServiceRecovered(ctx, service.ID); err != nil {
		t.Fatalf("mark recovered: %v", err)
	}

	loaded, err := sqlStore.GetServiceByID(ctx, service.ID)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if loaded.Down || loaded.Muted {
		t.Fatalf("expected recovered service, got down=%v muted=%v", loaded.Down, loaded.Muted)
	}
}

func TestUpdateMissingServiceReturnsNotFound(t *testing.T) {
	sqlStore := newTestStore(t)
	name := "ghost"
	_, err := sqlStore.UpdateService(context.Background(), "svc-missing", ServicePatch{ServiceName: &name})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

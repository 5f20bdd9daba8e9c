package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAlertLifecycle(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")

	if _, err := sqlStore.ActiveAlert(ctx, service.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound for healthy service, got %v", err)
	}

	alert, err := sqlStore.CreateAlert(ctx, service.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.AlertCycle != 1 || !alert.Active {
		t.Fatalf("expected active cycle-1 alert, got cycle=%d active=%v", alert.AlertCycle, alert.Active)
	}

	cycle, err := sqlStore.IncrementAlertCycle(ctx, alert.ID)
	if err != nil {
		t.Fatalf("increment cycle: %v", err)
	}
	if cycle != 2 {
		t.Fatalf("expected cycle=2, got %d", cycle)
	}

	if err := sqlStore.SetAlertExternalReference(ctx, alert.ID, "pd-dedup-123"); err != nil {
		t.Fatalf("set external reference: %v", err)
	}

	if err := sqlStore.CloseAlert(ctx, alert.ID, time.Now().UTC()); err != nil {
		t.Fatalf("close alert: %v", err)
	}
	if _, err := sqlStore.ActiveAlert(ctx, service.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected no active alert after close, got %v", err)
	}

	closed, err := sqlStore.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if closed.Active || closed.ClosedAt.IsZero() {
		t.Fatalf("expected closed alert, got active=%v closed_at=%v", closed.Active, closed.ClosedAt)
	}
	if closed.ExternalReferenceID != "pd-dedup-123" {
		t.Fatalf("unexpected external reference: %s", closed.ExternalReferenceID)
	}
}

func TestCloseAlertTwiceReturnsNotFound(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	service := seedService(t, sqlStore, "worker")

	alert, err := sqlStore.CreateAlert(ctx, service.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if err := sqlStore.CloseAlert(ctx, alert.ID, time.Now().UTC()); err != nil {
		t.Fatalf("close alert: %v", err)
	}
	if err := sqlStore.CloseAlert(ctx, alert.ID, time.Now().UTC()); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound on second close, got %v", err)
	}
}

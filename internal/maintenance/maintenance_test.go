package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "medic.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlStore
}

func TestOneTimeWindow(t *testing.T) {
	start := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	window := store.MaintenanceWindow{
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Timezone:  "UTC",
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{start.Add(-time.Second), false},
		{start, true},
		{start.Add(time.Hour), true},
		{start.Add(2*time.Hour - time.Second), true},
		{start.Add(2 * time.Hour), false},
	}
	for _, tc := range cases {
		got, err := WindowActive(window, tc.at)
		if err != nil {
			t.Fatalf("window active at %v: %v", tc.at, err)
		}
		if got != tc.want {
			t.Fatalf("at %v expected %v, got %v", tc.at, tc.want, got)
		}
	}
}

func TestRecurringWindowFollowsWallClock(t *testing.T) {
	// Nightly 02:00-04:00 Chicago time.
	base := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	window := store.MaintenanceWindow{
		ID:         "mw-test",
		StartTime:  base,
		EndTime:    base.Add(2 * time.Hour),
		Timezone:   "America/Chicago",
		Recurrence: "0 2 * * *",
	}
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 6, 15, 3, 0, 0, 0, chicago), true},
		{time.Date(2026, 6, 15, 1, 59, 0, 0, chicago), false},
		{time.Date(2026, 6, 15, 4, 0, 0, 0, chicago), false},
		// Winter (CST) and summer (CDT): same wall-clock hours either way.
		{time.Date(2026, 1, 15, 2, 30, 0, 0, chicago), true},
		{time.Date(2026, 7, 15, 2, 30, 0, 0, chicago), true},
	}
	for _, tc := range cases {
		got, err := WindowActive(window, tc.at)
		if err != nil {
			t.Fatalf("window active at %v: %v", tc.at, err)
		}
		if got != tc.want {
			t.Fatalf("at %v expected %v, got %v", tc.at, tc.want, got)
		}
	}
}

func TestValidateRecurrence(t *testing.T) {
	if err := ValidateRecurrence(""); err != nil {
		t.Fatalf("empty recurrence must be valid: %v", err)
	}
	if err := ValidateRecurrence("0 2 * * 6"); err != nil {
		t.Fatalf("expected valid cron expression, got %v", err)
	}
	if err := ValidateRecurrence("not cron"); err == nil {
		t.Fatal("expected malformed expression to be rejected")
	}
}

func TestInMaintenanceScopesByService(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()
	evaluator := NewEvaluator(sqlStore)

	now := time.Now().UTC()
	if _, err := sqlStore.CreateMaintenanceWindow(ctx, store.CreateMaintenanceWindowInput{
		Name:       "db upgrade",
		StartTime:  now.Add(-time.Hour),
		EndTime:    now.Add(time.Hour),
		ServiceIDs: []string{"svc-db"},
	}); err != nil {
		t.Fatalf("create window: %v", err)
	}

	inWindow, err := evaluator.InMaintenance(ctx, "svc-db", now)
	if err != nil {
		t.Fatalf("in maintenance: %v", err)
	}
	if !inWindow {
		t.Fatal("expected covered service to be in maintenance")
	}

	other, err := evaluator.InMaintenance(ctx, "svc-web", now)
	if err != nil {
		t.Fatalf("in maintenance: %v", err)
	}
	if other {
		t.Fatal("expected uncovered service to be outside maintenance")
	}

	// A window with no service list covers everything.
	if _, err := sqlStore.CreateMaintenanceWindow(ctx, store.CreateMaintenanceWindowInput{
		Name:      "global freeze",
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("create global window: %v", err)
	}
	global, err := evaluator.InMaintenance(ctx, "svc-web", now)
	if err != nil {
		t.Fatalf("in maintenance: %v", err)
	}
	if !global {
		t.Fatal("expected global window to cover all services")
	}
}

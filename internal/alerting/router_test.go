package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/medic-ops/medic/internal/store"
)

type fakeSender struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeSender) Send(_ context.Context, target store.NotificationTarget, _ Payload) error {
	f.calls = append(f.calls, target.ID)
	if f.fail[target.ID] {
		return errors.New("send failed")
	}
	return nil
}

type fakeSlack struct {
	channelID string
	text      string
}

func (f *fakeSlack) Send(_ context.Context, channelID, text string) error {
	f.channelID = channelID
	f.text = text
	return nil
}

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

func newTestRouter(t *testing.T, sqlStore *store.Store, sender Sender, slack *fakeSlack) *Router {
	t.Helper()
	hours, err := NewWorkingHours(9, 17, "UTC")
	if err != nil {
		t.Fatalf("working hours: %v", err)
	}
	return NewRouter(RouterConfig{
		Store:          sqlStore,
		Sender:         sender,
		FallbackSlack:  slack,
		DefaultChannel: "C-DEFAULT",
		Hours:          hours,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func addTarget(t *testing.T, sqlStore *store.Store, serviceID string, priority int, enabled bool, period string) store.NotificationTarget {
	t.Helper()
	target, err := sqlStore.CreateNotificationTarget(context.Background(), store.CreateTargetInput{
		ServiceID: serviceID,
		Type:      store.TargetTypeSlack,
		Config:    map[string]string{"channel_id": "C1"},
		Priority:  priority,
		Enabled:   enabled,
		Period:    period,
	})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	return target
}

func TestNotifyAllContinuesPastFailures(t *testing.T) {
	sqlStore := newTestStore(t)
	first := addTarget(t, sqlStore, "svc-1", 1, true, "")
	second := addTarget(t, sqlStore, "svc-1", 2, true, "")
	third := addTarget(t, sqlStore, "svc-1", 3, true, "")

	sender := &fakeSender{fail: map[string]bool{second.ID: true}}
	router := newTestRouter(t, sqlStore, sender, &fakeSlack{})

	results, err := router.Route(context.Background(), "svc-1", Payload{Summary: "down"}, ModeNotifyAll)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if AllSucceeded(results) {
		t.Fatal("expected partial failure")
	}
	if !AnySucceeded(results) {
		t.Fatal("expected partial success")
	}
	succeeded, failed := Partition(results)
	if len(succeeded) != 2 || len(failed) != 1 || failed[0].TargetID != second.ID {
		t.Fatalf("unexpected partition %v / %v", succeeded, failed)
	}
	if sender.calls[0] != first.ID || sender.calls[2] != third.ID {
		t.Fatalf("expected priority order, got %v", sender.calls)
	}
}

func TestNotifyUntilSuccessStopsAtFirstSuccess(t *testing.T) {
	sqlStore := newTestStore(t)
	first := addTarget(t, sqlStore, "svc-1", 1, true, "")
	second := addTarget(t, sqlStore, "svc-1", 2, true, "")
	addTarget(t, sqlStore, "svc-1", 3, true, "")

	sender := &fakeSender{fail: map[string]bool{first.ID: true}}
	router := newTestRouter(t, sqlStore, sender, &fakeSlack{})

	results, err := router.Route(context.Background(), "svc-1", Payload{Summary: "down"}, ModeNotifyUntilSuccess)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected routing to stop after first success, got %d results", len(results))
	}
	if results[1].TargetID != second.ID || !results[1].Success {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestDisabledTargetsAreNotSelected(t *testing.T) {
	sqlStore := newTestStore(t)
	addTarget(t, sqlStore, "svc-1", 1, false, "")
	enabled := addTarget(t, sqlStore, "svc-1", 2, true, "")

	sender := &fakeSender{}
	router := newTestRouter(t, sqlStore, sender, &fakeSlack{})

	results, err := router.Route(context.Background(), "svc-1", Payload{}, ModeNotifyAll)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 1 || results[0].TargetID != enabled.ID {
		t.Fatalf("expected only enabled target, got %v", results)
	}
}

func TestScheduleFilter(t *testing.T) {
	sqlStore := newTestStore(t)
	always := addTarget(t, sqlStore, "svc-1", 1, true, store.TargetPeriodAlways)
	during := addTarget(t, sqlStore, "svc-1", 2, true, store.TargetPeriodDuringHours)
	addTarget(t, sqlStore, "svc-1", 3, true, store.TargetPeriodAfterHours)

	sender := &fakeSender{}
	router := newTestRouter(t, sqlStore, sender, &fakeSlack{})
	// Tuesday noon UTC: during hours.
	router.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	results, err := router.RouteWithSchedule(context.Background(), "svc-1", Payload{}, ModeNotifyAll)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 2 || results[0].TargetID != always.ID || results[1].TargetID != during.ID {
		t.Fatalf("expected always+during targets, got %v", results)
	}

	// Saturday: after hours regardless of the hour.
	router.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	results, err = router.RouteWithSchedule(context.Background(), "svc-1", Payload{}, ModeNotifyAll)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 2 || results[1].Type != store.TargetTypeSlack {
		t.Fatalf("expected always+after targets, got %v", results)
	}
}

func TestRouteWithoutTargetsReturnsNoResults(t *testing.T) {
	sqlStore := newTestStore(t)
	router := newTestRouter(t, sqlStore, &fakeSender{}, &fakeSlack{})

	results, err := router.Route(context.Background(), "svc-none", Payload{}, ModeNotifyAll)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestFallbackPrefersTeamChannel(t *testing.T) {
	sqlStore := newTestStore(t)
	slack := &fakeSlack{}
	router := newTestRouter(t, sqlStore, &fakeSender{}, slack)
	ctx := context.Background()

	team, err := sqlStore.CreateTeam(ctx, "platform", "C-PLATFORM")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := router.RouteFallback(ctx, team.ID, Payload{Summary: "worker is down"}); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if slack.channelID != "C-PLATFORM" {
		t.Fatalf("expected team channel, got %q", slack.channelID)
	}

	if err := router.RouteFallback(ctx, "", Payload{Summary: "worker is down"}); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if slack.channelID != "C-DEFAULT" {
		t.Fatalf("expected default channel, got %q", slack.channelID)
	}
}

func TestWorkingHoursClassify(t *testing.T) {
	hours, err := NewWorkingHours(9, 17, "America/Chicago")
	if err != nil {
		t.Fatalf("working hours: %v", err)
	}
	chicago, _ := time.LoadLocation("America/Chicago")

	if got := hours.Classify(time.Date(2026, 8, 25, 10, 0, 0, 0, chicago)); got != PeriodDuringHours {
		t.Fatalf("weekday morning should be during hours, got %s", got)
	}
	if got := hours.Classify(time.Date(2026, 8, 25, 17, 0, 0, 0, chicago)); got != PeriodAfterHours {
		t.Fatalf("end hour is exclusive, got %s", got)
	}
	if got := hours.Classify(time.Date(2026, 8, 23, 10, 0, 0, 0, chicago)); got != PeriodAfterHours {
		t.Fatalf("sunday should be after hours, got %s", got)
	}
}

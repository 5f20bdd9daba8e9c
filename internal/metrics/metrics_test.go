package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medic-ops/medic/internal/events"
)

func TestConsumeEventsCountsAlerts(t *testing.T) {
	m := New()
	hub := events.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ConsumeEvents(ctx, hub)
	}()

	// Give the consumer a moment to subscribe.
	for range 100 {
		if hub.SubscriberCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(events.Event{Type: events.TypeAlertOpened})
	hub.Publish(events.Event{Type: events.TypeAlertOpened})
	hub.Publish(events.Event{Type: events.TypeAlertClosed})
	hub.Publish(events.Event{Type: events.TypeExecutionStarted})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(scrape(t, m), "medic_alerts_opened_total 2") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	body := scrape(t, m)
	for _, want := range []string{
		"medic_alerts_opened_total 2",
		"medic_alerts_closed_total 1",
		`medic_playbook_executions_total{kind="started"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.HeartbeatsTotal.WithLabelValues("beat").Inc()
	m.RateLimitRejections.WithLabelValues("management").Inc()
	m.ServicesDown.Set(3)

	body := scrape(t, m)
	for _, want := range []string{
		`medic_heartbeats_total{signal="beat"} 1`,
		`medic_rate_limit_rejections_total{class="management"} 1`,
		"medic_services_down 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 200 {
		t.Fatalf("unexpected scrape status %d", recorder.Code)
	}
	return recorder.Body.String()
}

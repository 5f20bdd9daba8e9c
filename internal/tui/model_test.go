package tui

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/medic-ops/medic/internal/adminclient"
)

func newTestModel() model {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newModel(nil, logger)
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestTabCyclesViews(t *testing.T) {
	m := newTestModel()
	if m.tab != tabServices {
		t.Fatalf("expected services tab, got %s", m.tab)
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	typed := updated.(model)
	if typed.tab != tabAlerts {
		t.Fatalf("expected alerts tab, got %s", typed.tab)
	}
	updated, _ = typed.Update(tea.KeyMsg{Type: tea.KeyTab})
	typed = updated.(model)
	if typed.tab != tabExecutions {
		t.Fatalf("expected executions tab, got %s", typed.tab)
	}
	updated, _ = typed.Update(tea.KeyMsg{Type: tea.KeyTab})
	typed = updated.(model)
	if typed.tab != tabServices {
		t.Fatalf("expected wrap back to services tab, got %s", typed.tab)
	}
}

func TestRefreshDonePopulatesAndClampsSelection(t *testing.T) {
	m := newTestModel()
	m.serviceIndex = 5

	updated, _ := m.Update(refreshDoneMsg{
		services: []adminclient.Service{
			{ID: "svc-1", HeartbeatName: "billing-cron", Active: true},
			{ID: "svc-2", HeartbeatName: "payments-worker", Active: true, Down: true},
		},
		alerts: []adminclient.Alert{{ID: "alert-1", ServiceID: "svc-2", Active: true}},
	})
	typed := updated.(model)
	if len(typed.services) != 2 || len(typed.alerts) != 1 {
		t.Fatalf("unexpected data: %d services, %d alerts", len(typed.services), len(typed.alerts))
	}
	if typed.serviceIndex != 1 {
		t.Fatalf("expected selection clamped to 1, got %d", typed.serviceIndex)
	}
	if typed.errorText != "" {
		t.Fatalf("unexpected error text %q", typed.errorText)
	}
}

func TestSelectionMovesWithinBounds(t *testing.T) {
	m := newTestModel()
	m.services = []adminclient.Service{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	updated, _ := m.Update(keyRune('j'))
	typed := updated.(model)
	if typed.serviceIndex != 1 {
		t.Fatalf("expected index 1, got %d", typed.serviceIndex)
	}
	updated, _ = typed.Update(keyRune('k'))
	typed = updated.(model)
	if typed.serviceIndex != 0 {
		t.Fatalf("expected index 0, got %d", typed.serviceIndex)
	}
	updated, _ = typed.Update(keyRune('k'))
	typed = updated.(model)
	if typed.serviceIndex != 0 {
		t.Fatalf("expected index pinned at 0, got %d", typed.serviceIndex)
	}
}

func TestMuteDoneUpdatesServiceInPlace(t *testing.T) {
	m := newTestModel()
	m.services = []adminclient.Service{
		{ID: "svc-1", HeartbeatName: "billing-cron"},
		{ID: "svc-2", HeartbeatName: "payments-worker"},
	}
	m.loading = true

	updated, _ := m.Update(muteDoneMsg{service: adminclient.Service{
		ID: "svc-2", HeartbeatName: "payments-worker", Muted: true,
	}})
	typed := updated.(model)
	if typed.loading {
		t.Fatal("expected loading cleared")
	}
	if !typed.services[1].Muted {
		t.Fatal("expected service updated in place")
	}
	if !strings.Contains(typed.statusText, "muted payments-worker") {
		t.Fatalf("unexpected status %q", typed.statusText)
	}
}

func TestViewShowsDownServices(t *testing.T) {
	m := newTestModel()
	m.services = []adminclient.Service{
		{ID: "svc-1", HeartbeatName: "billing-cron", Active: true, Down: true, Priority: "p1"},
	}
	view := m.View()
	if !strings.Contains(view, "billing-cron") {
		t.Fatalf("expected service in view:\n%s", view)
	}
	if !strings.Contains(view, "DOWN") {
		t.Fatalf("expected DOWN marker in view:\n%s", view)
	}
}

func TestQuitKeySetsQuitting(t *testing.T) {
	m := newTestModel()
	updated, cmd := m.Update(keyRune('q'))
	typed := updated.(model)
	if !typed.quitting {
		t.Fatal("expected quitting state")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !strings.Contains(typed.View(), "closed") {
		t.Fatalf("unexpected closing view %q", typed.View())
	}
}

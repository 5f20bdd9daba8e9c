// Package tui is the terminal dashboard: live view of services, open alerts
// and playbook executions, with mute and approval controls.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/medic-ops/medic/internal/adminclient"
)

const (
	tabServices   = "services"
	tabAlerts     = "alerts"
	tabExecutions = "executions"

	refreshEvery   = 5 * time.Second
	requestTimeout = 8 * time.Second
)

type model struct {
	client *adminclient.Client
	logger *slog.Logger

	tab      string
	quitting bool
	loading  bool

	services   []adminclient.Service
	alerts     []adminclient.Alert
	executions []adminclient.Execution

	serviceIndex   int
	alertIndex     int
	executionIndex int

	statusText  string
	errorText   string
	lastRefresh time.Time
	width       int
}

func Run(client *adminclient.Client, logger *slog.Logger) error {
	program := tea.NewProgram(newModel(client, logger))
	_, err := program.Run()
	return err
}

func newModel(client *adminclient.Client, logger *slog.Logger) model {
	return model{
		client: client,
		logger: logger,
		tab:    tabServices,
	}
}

type refreshDoneMsg struct {
	services   []adminclient.Service
	alerts     []adminclient.Alert
	executions []adminclient.Execution
	err        error
}

type muteDoneMsg struct {
	service adminclient.Service
	err     error
}

type approveDoneMsg struct {
	execution adminclient.Execution
	err       error
}

type cancelDoneMsg struct {
	execution adminclient.Execution
	err       error
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		return m, nil
	case tickMsg:
		if m.loading {
			return m, tickCmd()
		}
		m.loading = true
		return m, tea.Batch(m.refreshCmd(), tickCmd())
	case refreshDoneMsg:
		m.loading = false
		if typed.err != nil {
			m.errorText = typed.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.services = typed.services
		m.alerts = typed.alerts
		m.executions = typed.executions
		m.lastRefresh = time.Now()
		m.serviceIndex = clampIndex(m.serviceIndex, len(m.services))
		m.alertIndex = clampIndex(m.alertIndex, len(m.alerts))
		m.executionIndex = clampIndex(m.executionIndex, len(m.executions))
		return m, nil
	case muteDoneMsg:
		m.loading = false
		if typed.err != nil {
			m.errorText = typed.err.Error()
			return m, nil
		}
		m.errorText = ""
		if typed.service.Muted {
			m.statusText = fmt.Sprintf("muted %s", typed.service.HeartbeatName)
		} else {
			m.statusText = fmt.Sprintf("unmuted %s", typed.service.HeartbeatName)
		}
		for index := range m.services {
			if m.services[index].ID == typed.service.ID {
				m.services[index] = typed.service
				break
			}
		}
		return m, nil
	case approveDoneMsg:
		m.loading = false
		if typed.err != nil {
			m.errorText = typed.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.statusText = fmt.Sprintf("approved execution %s", shortID(typed.execution.ID))
		return m, m.refreshCmd()
	case cancelDoneMsg:
		m.loading = false
		if typed.err != nil {
			m.errorText = typed.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.statusText = fmt.Sprintf("cancelled execution %s", shortID(typed.execution.ID))
		return m, m.refreshCmd()
	case tea.KeyMsg:
		return m.handleKey(typed)
	}
	return m, nil
}

func (m model) handleKey(typed tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch typed.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		switch m.tab {
		case tabServices:
			m.tab = tabAlerts
		case tabAlerts:
			m.tab = tabExecutions
		default:
			m.tab = tabServices
		}
		m.statusText = ""
		return m, nil
	case "r":
		if m.loading {
			return m, nil
		}
		m.loading = true
		m.statusText = "refreshing..."
		return m, m.refreshCmd()
	case "j", "down":
		m.moveSelection(1)
		return m, nil
	case "k", "up":
		m.moveSelection(-1)
		return m, nil
	}

	if m.loading {
		return m, nil
	}

	switch {
	case m.tab == tabServices && typed.String() == "m":
		if len(m.services) == 0 {
			return m, nil
		}
		selected := m.services[m.serviceIndex]
		m.loading = true
		m.statusText = "updating mute state..."
		return m, m.muteCmd(selected.HeartbeatName, !selected.Muted)
	case m.tab == tabExecutions && typed.String() == "a":
		if len(m.executions) == 0 {
			return m, nil
		}
		selected := m.executions[m.executionIndex]
		m.loading = true
		m.statusText = "approving..."
		return m, m.approveCmd(selected.ID)
	case m.tab == tabExecutions && typed.String() == "x":
		if len(m.executions) == 0 {
			return m, nil
		}
		selected := m.executions[m.executionIndex]
		m.loading = true
		m.statusText = "cancelling..."
		return m, m.cancelCmd(selected.ID)
	}
	return m, nil
}

func (m *model) moveSelection(delta int) {
	switch m.tab {
	case tabServices:
		m.serviceIndex = clampIndex(m.serviceIndex+delta, len(m.services))
	case tabAlerts:
		m.alertIndex = clampIndex(m.alertIndex+delta, len(m.alerts))
	case tabExecutions:
		m.executionIndex = clampIndex(m.executionIndex+delta, len(m.executions))
	}
}

func clampIndex(index, length int) int {
	if index >= length {
		index = length - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m model) refreshCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		services, err := client.ListServices(ctx)
		if err != nil {
			return refreshDoneMsg{err: err}
		}
		alerts, err := client.ListAlerts(ctx, true, 50)
		if err != nil {
			return refreshDoneMsg{err: err}
		}
		executions, err := client.ListExecutions(ctx, 25)
		if err != nil {
			return refreshDoneMsg{err: err}
		}
		return refreshDoneMsg{services: services, alerts: alerts, executions: executions}
	}
}

func (m model) muteCmd(heartbeatName string, muted bool) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		service, err := client.SetServiceMuted(ctx, heartbeatName, muted)
		return muteDoneMsg{service: service, err: err}
	}
}

func (m model) approveCmd(executionID string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		execution, err := client.ApproveExecution(ctx, executionID)
		return approveDoneMsg{execution: execution, err: err}
	}
}

func (m model) cancelCmd(executionID string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		execution, err := client.CancelExecution(ctx, executionID)
		return cancelDoneMsg{execution: execution, err: err}
	}
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	tabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	downStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
)

func (m model) View() string {
	if m.quitting {
		return "medic dashboard closed\n"
	}

	var lines []string
	lines = append(lines, titleStyle.Render("medic dashboard"), "")
	lines = append(lines, m.renderTabs(), "")

	switch m.tab {
	case tabServices:
		lines = append(lines, m.renderServices()...)
	case tabAlerts:
		lines = append(lines, m.renderAlerts()...)
	case tabExecutions:
		lines = append(lines, m.renderExecutions()...)
	}

	lines = append(lines, "", m.renderControls())
	if !m.lastRefresh.IsZero() {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("refreshed %s", m.lastRefresh.Format("15:04:05"))))
	}
	if strings.TrimSpace(m.statusText) != "" {
		lines = append(lines, warnStyle.Render(m.statusText))
	}
	if strings.TrimSpace(m.errorText) != "" {
		lines = append(lines, errorStyle.Render(m.errorText))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m model) renderTabs() string {
	render := func(name, label string) string {
		if m.tab == name {
			return activeTab.Render(label)
		}
		return tabStyle.Render(label)
	}
	return fmt.Sprintf("%s | %s | %s  (Tab to switch)",
		render(tabServices, fmt.Sprintf("Services (%d)", len(m.services))),
		render(tabAlerts, fmt.Sprintf("Alerts (%d)", len(m.alerts))),
		render(tabExecutions, fmt.Sprintf("Executions (%d)", len(m.executions))))
}

func (m model) renderServices() []string {
	if len(m.services) == 0 {
		return []string{mutedStyle.Render("No services registered.")}
	}
	lines := make([]string, 0, len(m.services))
	for index, service := range m.services {
		state := okStyle.Render("up")
		if service.Down {
			state = downStyle.Render("DOWN")
		}
		if !service.Active {
			state = mutedStyle.Render("inactive")
		}
		flags := ""
		if service.Muted {
			flags = mutedStyle.Render(" [muted]")
		}
		line := fmt.Sprintf("%s %-30s %-8s %s%s",
			cursor(index == m.serviceIndex),
			service.HeartbeatName,
			strings.ToUpper(service.Priority),
			state, flags)
		if index == m.serviceIndex {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m model) renderAlerts() []string {
	if len(m.alerts) == 0 {
		return []string{okStyle.Render("No open alerts.")}
	}
	lines := make([]string, 0, len(m.alerts))
	for index, alert := range m.alerts {
		opened := time.Unix(alert.CreatedAtUnix, 0).UTC().Format(time.RFC3339)
		line := fmt.Sprintf("%s %s service=%s cycle=%d opened=%s",
			cursor(index == m.alertIndex),
			shortID(alert.ID),
			shortID(alert.ServiceID),
			alert.AlertCycle,
			opened)
		if index == m.alertIndex {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, downStyle.Render("! ")+line)
	}
	return lines
}

func (m model) renderExecutions() []string {
	if len(m.executions) == 0 {
		return []string{mutedStyle.Render("No playbook executions.")}
	}
	lines := make([]string, 0, len(m.executions))
	for index, execution := range m.executions {
		status := execution.Status
		switch status {
		case "awaiting_approval":
			status = warnStyle.Render(status)
		case "failed":
			status = downStyle.Render(status)
		case "completed":
			status = okStyle.Render(status)
		}
		line := fmt.Sprintf("%s %s step=%d %s",
			cursor(index == m.executionIndex),
			shortID(execution.ID),
			execution.CurrentStep,
			status)
		if index == m.executionIndex {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m model) renderControls() string {
	switch m.tab {
	case tabServices:
		return mutedStyle.Render("Controls: j/k=move, m=mute/unmute, r=refresh, q=quit")
	case tabExecutions:
		return mutedStyle.Render("Controls: j/k=move, a=approve, x=cancel, r=refresh, q=quit")
	default:
		return mutedStyle.Render("Controls: j/k=move, r=refresh, q=quit")
	}
}

func cursor(selected bool) string {
	if selected {
		return ">"
	}
	return " "
}

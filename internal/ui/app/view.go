// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/broadcast-console/internal/ui/components"
)

// View implements tea.Model.
func (m *Model) View() string {
	switch {
	case m.state.Loading:
		return m.place(m.spinner.View() + " Restoring session...")
	case m.state.User == nil:
		return m.place(m.form.View())
	}
	return m.consoleView()
}

func (m *Model) consoleView() string {
	t := m.theme
	header := components.RenderHeader(t, m.width, m.state.User.Username)
	status := components.RenderStatusBar(t, m.width, m.state.SessionExpiring,
		m.state.Remaining(m.clock.Now()))

	var body string
	if m.dialog.Visible() {
		body = m.dialog.View()
	} else {
		lines := []string{
			"Signed in as " + m.state.User.Username + ".",
			"",
			t.Hint.Render("Broadcast tools are available while your session is active."),
		}
		if notice := m.notice.View(); notice != "" {
			lines = append(lines, "", notice)
		}
		body = t.Body.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	if m.height > 0 {
		bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(status)
		if bodyHeight > 0 {
			body = lipgloss.NewStyle().Height(bodyHeight).Render(body)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
}

// place centers content in the window when its size is known.
func (m *Model) place(content string) string {
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

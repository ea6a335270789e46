package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/savestate"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Width(12)
	savingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	savedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderState renders the save indicator of one section.
func renderState(section string, s savestate.State) string {
	var indicator string
	switch s {
	case savestate.Saving:
		indicator = savingStyle.Render("● saving…")
	case savestate.Saved:
		indicator = savedStyle.Render("✔ saved")
	case savestate.Error:
		indicator = errorStyle.Render("✖ could not save")
	default:
		indicator = doneStyle.Render(s.String())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, sectionStyle.Render(section), indicator)
}

// renderServers renders the server menu, one numbered line per server.
func renderServers(servers []config.Server) string {
	if len(servers) == 0 {
		return dimStyle.Render("no servers configured")
	}

	lines := make([]string, 0, len(servers))
	for i, s := range servers {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			dimStyle.Render(fmt.Sprintf("%d.", i+1)),
			sectionStyle.Render(s.Name),
			s.URL,
		))
	}
	return strings.Join(lines, "\n")
}

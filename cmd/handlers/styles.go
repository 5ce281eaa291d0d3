package handlers

import (
	"fmt"

	"newsdigest/internal/core"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// field renders one "label  value" line
func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

func stateBadge(active bool, on, off string) string {
	if active {
		return okStyle.Render(on)
	}
	return warnStyle.Render(off)
}

func logTypeBadge(t core.LogType) string {
	switch t {
	case core.LogError:
		return errStyle.Render("ERROR")
	case core.LogWarning:
		return warnStyle.Render("WARN ")
	default:
		return okStyle.Render("INFO ")
	}
}

// panel joins lines into a bordered block with a heading
func panel(title string, lines ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), boxStyle.Render(body))
}

package commands

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

var (
	// Future-Glass Palette
	colorNeonGreen  = lipgloss.Color("#00FF99") // Live / Success
	colorNeonPurple = lipgloss.Color("#874BFD") // Header
	colorTextMain   = lipgloss.Color("#E2E8F0")
	colorTextSub    = lipgloss.Color("#64748B")
	colorDanger     = lipgloss.Color("#FF0055")
	colorWarning    = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Foreground(colorNeonPurple).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextSub).
			Bold(true).
			Width(14)

	valueStyle = lipgloss.NewStyle().Foreground(colorTextMain)
	dimStyle   = lipgloss.NewStyle().Foreground(colorTextSub)
	warning    = lipgloss.NewStyle().Foreground(colorWarning)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTextSub).
			Padding(0, 1)
)

// provenanceStyle colors a provenance by how stale it is.
func provenanceStyle(p pricing.Provenance) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch p {
	case pricing.ProvenanceLive:
		return s.Foreground(colorNeonGreen)
	case pricing.ProvenancePartial, pricing.ProvenanceCached:
		return s.Foreground(colorWarning)
	default:
		return s.Foreground(colorDanger)
	}
}

func badge(p pricing.Provenance) string {
	return provenanceStyle(p).Render("[" + string(p) + "]")
}

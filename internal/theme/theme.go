// Package theme holds the lipgloss styles used by CLI output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

// HeaderStyle is used for table headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// DimmedStyle is used for timestamps and secondary detail.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// EventKindStyle returns a color-coded, fixed-width style for a
// lifecycle event kind.
func EventKindStyle(kind model.EventKind) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Width(20)

	switch kind {
	case model.EventStart, model.EventForeground, model.EventReachable:
		return base.Foreground(ColorGreen)
	case model.EventStop, model.EventDrained:
		return base.Foreground(ColorBlue)
	case model.EventBackground, model.EventFetch:
		return base.Foreground(ColorMagenta)
	case model.EventBudgetBegin, model.EventBudgetEnd:
		return base.Foreground(ColorYellow)
	case model.EventWatchdog, model.EventTerminate, model.EventUnreachable:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// OutboxStateStyle colors an outbox item state.
func OutboxStateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	if state == model.OutboxSent {
		return base.Foreground(ColorGreen)
	}
	return base.Foreground(ColorYellow)
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/cokernel/internal/config"
	"github.com/invowk/cokernel/internal/dispatch"
)

// Color palette shared by all CLI output.
const (
	// ColorPrimary is purple - used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray - used for secondary text.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green - used for passed steps and bound slots.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red - used for failures and error statuses.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber - used for warnings.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue - used for call names and keys.
	ColorHighlight = lipgloss.Color("#3B82F6")

	// ColorControl is cyan - marks the control domain.
	ColorControl = lipgloss.Color("#06B6D4")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for call names and configuration keys.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	controlStyle = lipgloss.NewStyle().Foreground(ColorControl)

	columnStyle = lipgloss.NewStyle().PaddingRight(2)
)

// applyColorScheme tells lipgloss which background to assume. Auto keeps
// the terminal detection.
func applyColorScheme(cs config.ColorScheme) {
	switch cs {
	case config.ColorSchemeDark:
		lipgloss.SetHasDarkBackground(true)
	case config.ColorSchemeLight:
		lipgloss.SetHasDarkBackground(false)
	}
}

// glamourStyle returns the glamour style matching the color scheme.
func glamourStyle(cs config.ColorScheme) string {
	switch cs {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	}
	if lipgloss.HasDarkBackground() {
		return "dark"
	}
	return "light"
}

func domainLabel(d dispatch.Domain) string {
	if d == dispatch.DomainControl {
		return controlStyle.Render(d.String())
	}
	return d.String()
}

// column pads s to width before styling so ANSI codes do not skew alignment.
func column(s string, width int, style lipgloss.Style) string {
	return columnStyle.Render(style.Width(width).Render(s))
}

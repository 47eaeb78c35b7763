// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/orbisgis/framework/internal/provision"
	"github.com/orbisgis/framework/pkg/lifecycle"
)

// Color palette shared by all CLI output. Tuned for dark terminals.
const (
	// ColorPrimary is purple, for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray, for subtitles and de-emphasized content.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green, for started modules and completed steps.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red, for failures.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber, for stopped modules and warnings.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue, for module names, paths and commands.
	ColorHighlight = lipgloss.Color("#3B82F6")

	// ColorVerbose is light gray, for verbose output.
	ColorVerbose = lipgloss.Color("#9CA3AF")
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

	// WarningStyle is for warning messages and caution indicators.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for module names, paths and commands.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// VerboseStyle is for verbose output and supplementary information.
	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// VerboseHighlightStyle is for emphasized items within verbose output.
	VerboseHighlightStyle = lipgloss.NewStyle().
				Foreground(ColorHighlight)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			PaddingRight(2)

	cellStyle = lipgloss.NewStyle().
			PaddingRight(2)
)

// stateStyle picks the style a lifecycle state is rendered with.
func stateStyle(s lifecycle.State) lipgloss.Style {
	switch s {
	case lifecycle.StateStarted:
		return SuccessStyle
	case lifecycle.StateStopped:
		return WarningStyle
	case lifecycle.StateInstalled:
		return CmdStyle
	default:
		return SubtitleStyle
	}
}

// outcomeStyle picks the style a provisioning outcome is rendered with.
func outcomeStyle(o provision.Outcome) lipgloss.Style {
	switch o {
	case provision.OutcomeFailed:
		return ErrorStyle
	case provision.OutcomeStarted, provision.OutcomeInstalled, provision.OutcomeDownloaded:
		return SuccessStyle
	default:
		return SubtitleStyle
	}
}

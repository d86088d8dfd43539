package tui

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	checkedStyle = lipgloss.NewStyle().
			Foreground(successColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// SummaryGood renders success counters in the driver's report.
	SummaryGood = lipgloss.NewStyle().Foreground(successColor)
	// SummaryWarn renders skipped/pending counters.
	SummaryWarn = lipgloss.NewStyle().Foreground(warningColor)
	// SummaryBad renders failures and halts.
	SummaryBad = lipgloss.NewStyle().Foreground(errorColor)
	// SummaryTitle renders direction headings.
	SummaryTitle = lipgloss.NewStyle().Bold(true)
)

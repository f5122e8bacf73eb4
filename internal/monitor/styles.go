package monitor

import (
	"github.com/charmbracelet/lipgloss"
)

// Application branding constants
const (
	AppName = "NXSCOPE CHANNEL MONITOR"
)

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#7D56F4") // Purple
	SecondaryColor = lipgloss.Color("#43BF6D") // Green
	WarningColor   = lipgloss.Color("#FFA500") // Orange
	ErrorColor     = lipgloss.Color("#FF0000") // Red

	TextColor   = lipgloss.Color("#FFFFFF") // White
	SubtleColor = lipgloss.Color("#626262") // Gray
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(1, 0)

	StatusStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	StreamingStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	HeaderRowStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Bold(true)

	RowStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(TextColor)

	SelectedRowStyle = lipgloss.NewStyle().
				PaddingLeft(0).
				Foreground(SecondaryColor).
				Bold(true)

	DisabledRowStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(SubtleColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true).
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ErrorColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Padding(1, 0)
)

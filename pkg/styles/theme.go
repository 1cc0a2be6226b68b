// Package styles provides centralized style and color definitions for terminal
// output. It uses lipgloss.AdaptiveColor so output stays readable on both
// light and dark terminal themes.
package styles

import "github.com/charmbracelet/lipgloss"

// Adaptive colors. Light variants are darker for visibility on light
// backgrounds; dark variants are brighter (Dracula inspired).
var (
	// ColorError is used for error messages and failed checks
	ColorError = lipgloss.AdaptiveColor{Light: "#D73737", Dark: "#FF5555"}

	// ColorWarning is used for warnings and quarantine notices
	ColorWarning = lipgloss.AdaptiveColor{Light: "#E67E22", Dark: "#FFB86C"}

	// ColorSuccess is used for success messages and passing checks
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#27AE60", Dark: "#50FA7B"}

	// ColorInfo is used for informational messages
	ColorInfo = lipgloss.AdaptiveColor{Light: "#2980B9", Dark: "#8BE9FD"}

	// ColorComment is used for secondary, muted information
	ColorComment = lipgloss.AdaptiveColor{Light: "#6C7A89", Dark: "#6272A4"}
)

// Semantic styles applied by the console package
var (
	Error   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Info    = lipgloss.NewStyle().Foreground(ColorInfo)
	Muted   = lipgloss.NewStyle().Foreground(ColorComment)

	TableHeader = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true).Padding(0, 1)
	TableCell   = lipgloss.NewStyle().Padding(0, 1)
	TableBorder = lipgloss.NewStyle().Foreground(ColorComment)

	NormalBorder = lipgloss.NormalBorder()
)

// Package console renders operator-facing output for the Watchtower worker:
// glyph-prefixed status lines on stderr and the check-verdict table printed
// by the one-shot analyze command. Styling is dropped when stderr is not a
// terminal so piped logs stay plain and grep-able.
package console

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/deptex/watchtower/pkg/storage"
	"github.com/deptex/watchtower/pkg/styles"
)

var stderrIsTTY = isatty.IsTerminal(os.Stderr.Fd())

// statusLine prefixes a message with a severity glyph. Only the glyph is
// styled; the message text stays plain so log filters keep working.
func statusLine(style lipgloss.Style, glyph, message string) string {
	if stderrIsTTY {
		glyph = style.Render(glyph)
	}
	return glyph + " " + message
}

// FormatSuccessMessage renders a completed-operation line
func FormatSuccessMessage(message string) string {
	return statusLine(styles.Success, "✓", message)
}

// FormatInfoMessage renders a neutral status line
func FormatInfoMessage(message string) string {
	return statusLine(styles.Info, "ℹ", message)
}

// FormatWarningMessage renders a degraded-but-continuing line
func FormatWarningMessage(message string) string {
	return statusLine(styles.Warning, "⚠", message)
}

// FormatErrorMessage renders a failure line
func FormatErrorMessage(message string) string {
	return statusLine(styles.Error, "✗", message)
}

// FormatVerboseMessage renders secondary detail shown in verbose mode
func FormatVerboseMessage(message string) string {
	if !stderrIsTTY {
		return message
	}
	return styles.Muted.Render(message)
}

// FormatCheckStatus colors a per-version check verdict for table cells:
// green pass, orange warning, red fail
func FormatCheckStatus(status storage.CheckStatus) string {
	if !stderrIsTTY {
		return string(status)
	}
	switch status {
	case storage.CheckPass:
		return styles.Success.Render(string(status))
	case storage.CheckWarning:
		return styles.Warning.Render(string(status))
	case storage.CheckFail:
		return styles.Error.Render(string(status))
	default:
		return styles.Muted.Render(string(status))
	}
}

// TableConfig describes a table to render
type TableConfig struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// RenderTable renders a bordered table, unstyled when stderr is not a
// terminal
func RenderTable(config TableConfig) string {
	if len(config.Headers) == 0 {
		return ""
	}

	var output strings.Builder
	if config.Title != "" {
		output.WriteString(statusLine(styles.Info, "ℹ", config.Title))
		output.WriteString("\n")
	}

	styleFunc := func(row, col int) lipgloss.Style {
		if !stderrIsTTY {
			return lipgloss.NewStyle()
		}
		if row == table.HeaderRow {
			return styles.TableHeader
		}
		return styles.TableCell
	}

	t := table.New().
		Headers(config.Headers...).
		Rows(config.Rows...).
		Border(styles.NormalBorder).
		BorderStyle(styles.TableBorder).
		StyleFunc(styleFunc)

	output.WriteString(t.String())
	output.WriteString("\n")
	return output.String()
}

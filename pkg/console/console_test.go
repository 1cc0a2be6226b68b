package console

import (
	"strings"
	"testing"

	"github.com/deptex/watchtower/pkg/storage"
)

func TestStatusLinesKeepMessagePlain(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		glyph  string
	}{
		{name: "success", format: FormatSuccessMessage, glyph: "✓"},
		{name: "info", format: FormatInfoMessage, glyph: "ℹ"},
		{name: "warning", format: FormatWarningMessage, glyph: "⚠"},
		{name: "error", format: FormatErrorMessage, glyph: "✗"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.format("analysis complete")
			if !strings.Contains(out, "analysis complete") {
				t.Errorf("formatted message lost its text: %q", out)
			}
			if !strings.Contains(out, tt.glyph) {
				t.Errorf("formatted message lost its glyph %q: %q", tt.glyph, out)
			}
		})
	}
}

func TestFormatVerboseMessageKeepsText(t *testing.T) {
	out := FormatVerboseMessage("registry fetch took 1.2s")
	if !strings.Contains(out, "registry fetch took 1.2s") {
		t.Errorf("verbose message lost its text: %q", out)
	}
}

func TestFormatCheckStatus(t *testing.T) {
	for _, status := range []storage.CheckStatus{storage.CheckPass, storage.CheckWarning, storage.CheckFail} {
		out := FormatCheckStatus(status)
		if !strings.Contains(out, string(status)) {
			t.Errorf("check status %q lost its text: %q", status, out)
		}
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := RenderTable(TableConfig{}); out != "" {
		t.Errorf("expected empty output for headerless table, got %q", out)
	}
}

func TestRenderTableIncludesCells(t *testing.T) {
	out := RenderTable(TableConfig{
		Title:   "Checks",
		Headers: []string{"Check", "Status"},
		Rows:    [][]string{{"entropy", "pass"}},
	})
	for _, want := range []string{"Checks", "Check", "Status", "entropy", "pass"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for human-readable output.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// labelWidth is the column width of status labels.
const labelWidth = 22

// =============================================================================
// HELPERS
// =============================================================================

// GetStyleForTTY returns style when colors are enabled, a plain style
// otherwise.
func GetStyleForTTY(style lipgloss.Style) lipgloss.Style {
	if !ColorsEnabled() {
		return lipgloss.NewStyle()
	}
	return style
}

// RenderSeparator renders a horizontal rule sized to the terminal, capped
// at 70 columns.
func RenderSeparator() string {
	w := GetTerminalWidth() - 4
	if w > 70 {
		w = 70
	}
	return GetStyleForTTY(SeparatorStyle).Render(strings.Repeat("=", w))
}

// RenderStatus renders an [OK]/[FAIL]/[WARN] marker.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "pass", "safe", "valid":
		return GetStyleForTTY(SuccessStyle).Render("[OK]")
	case "fail", "error", "unsafe", "invalid":
		return GetStyleForTTY(ErrorStyle).Render("[FAIL]")
	case "warn", "degraded":
		return GetStyleForTTY(WarningStyle).Render("[WARN]")
	default:
		return GetStyleForTTY(DimStyle).Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel pads label to the shared column width. Padding is measured in
// terminal cells so wide characters stay aligned.
func RenderLabel(label string) string {
	cell := util.PadRight(util.TruncateWidth(label, labelWidth-1), labelWidth)
	return GetStyleForTTY(LabelStyle).Render(cell)
}

// RenderField renders one "label value" status line.
func RenderField(label, value string) string {
	return RenderLabel(label) + GetStyleForTTY(ValueStyle).Render(value)
}

// Package ui provides the terminal user interface for vpn-pool.
// This file contains the lipgloss styles.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared with the desktop notifications' icons.
var (
	colorConnected  = lipgloss.Color("#2ec27e")
	colorConnecting = lipgloss.Color("#e5a50a")
	colorError      = lipgloss.Color("#e01b24")
	colorAccent     = lipgloss.Color("#3584e4")
	colorMuted      = lipgloss.Color("#626262")
	colorText       = lipgloss.Color("#FAFAFA")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorAccent).
			Bold(true).
			Padding(0, 1)

	statusBaseStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Padding(0, 2).
			MarginTop(1).
			MarginBottom(1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	boundStyle = lipgloss.NewStyle().
			Foreground(colorConnected)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	messageStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorConnecting)
)

// statusStyle colours the status bar by connection state.
func statusStyle(connected, busy bool) lipgloss.Style {
	switch {
	case connected:
		return statusBaseStyle.Background(colorConnected)
	case busy:
		return statusBaseStyle.Background(colorConnecting)
	default:
		return statusBaseStyle.Background(colorError)
	}
}

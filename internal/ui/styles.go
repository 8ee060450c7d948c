// Package ui provides terminal styling for wt output.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals, so a
// form can be shown.
func IsInteractive() bool {
	return IsTerminal() && term.IsTerminal(int(os.Stdin.Fd()))
}

// ShouldUseColor honours NO_COLOR and CLICOLOR_FORCE, then falls back to TTY detection.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return IsTerminal()
}

// Adaptive colors for light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#4e8a0a", Dark: "#a6da95"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b7791f", Dark: "#eed49f"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c53030", Dark: "#ed8796"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#718096", Dark: "#8087a2"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#2b6cb0", Dark: "#8aadf4"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// PassIcon returns the styled success icon.
func PassIcon() string { return RenderPass(IconPass) }

// WarnIcon returns the styled warning icon.
func WarnIcon() string { return RenderWarn(IconWarn) }

// FailIcon returns the styled failure icon.
func FailIcon() string { return RenderFail(IconFail) }

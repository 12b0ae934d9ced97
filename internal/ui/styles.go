// Package ui renders command line output: colored status markers and tables.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Adaptive colors for light and dark terminals
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#5f8700", Dark: "#87d75f"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#af8700", Dark: "#ffd75f"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#d70000", Dark: "#ff5f5f"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#005fd7", Dark: "#5fafff"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#767676", Dark: "#8a8a8a"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

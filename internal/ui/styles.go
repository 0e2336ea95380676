// Package ui renders CLI output: status colours, key/value tables and
// relative times.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Colours adapt to light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#7CB342"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB300"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	KeyStyle    = lipgloss.NewStyle().Bold(true)
)

func init() {
	Init(os.Stdout)
}

// Init picks the colour profile for w. Colour is off when NO_COLOR is set,
// when CLICOLOR=0, or when w is not a terminal.
func Init(w io.Writer) {
	if ShouldUseColor(w) {
		lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ShouldUseColor reports whether coloured output suits w.
func ShouldUseColor(w io.Writer) bool {
	if termenv.EnvNoColor() {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RenderPass renders text in the success colour.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders text in the warning colour.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders text in the failure colour.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderAccent renders text in the accent colour.
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderStatus colours a sync status: success, conflict or error.
func RenderStatus(status string) string {
	switch status {
	case "success":
		return RenderPass(status)
	case "conflict":
		return RenderWarn(status)
	case "error":
		return RenderFail(status)
	case "":
		return RenderMuted("never")
	default:
		return status
	}
}

// Row is one line of a key/value table.
type Row struct {
	Key   string
	Value string
}

// Table renders rows as aligned "key  value" lines.
func Table(rows []Row) string {
	width := 0
	for _, r := range rows {
		if w := lipgloss.Width(r.Key); w > width {
			width = w
		}
	}
	keyStyle := KeyStyle.Width(width + 2)

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(keyStyle.Render(r.Key))
		b.WriteString(r.Value)
	}
	return b.String()
}

// RelativeTime renders t relative to now, e.g. "3 minutes ago". The zero
// time renders as "never".
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Count renders n with a unit, pluralized with an s.
func Count(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), unit)
}

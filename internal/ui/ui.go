// Package ui holds the terminal styling helpers used by the chatd CLI.
package ui

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI256 color codes.
const (
	colorOnline  = 114 // green
	colorOffline = 245 // medium gray
	colorKind    = 74  // blue
	colorMuted   = 245 // medium gray
)

var noColor bool

// ShouldUseColor returns true when ANSI colors should be used on stdout.
// It respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR, and TTY detection.
func ShouldUseColor() bool {
	// https://no-color.org — any non-empty value disables color.
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	// CLICOLOR_FORCE=1 forces color even without a TTY.
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	// CLICOLOR=0 explicitly disables color.
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	// Default: color if stdout is a terminal.
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderOnline returns s styled as an online presence marker (green).
func RenderOnline(s string) string { return render(colorOnline, s) }

// RenderOffline returns s styled as an offline presence marker (gray).
func RenderOffline(s string) string { return render(colorOffline, s) }

// RenderKind returns s styled as an event kind (blue).
func RenderKind(s string) string { return render(colorKind, s) }

// RenderMuted returns s in the muted (gray) color, used for timestamps and
// secondary detail.
func RenderMuted(s string) string { return render(colorMuted, s) }

package ui

import (
	"os"
	"sync/atomic"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// agentMode is flipped by the CLI when output is meant for machine
// consumption (--json). Styling, glamour, and the pager are skipped then.
var agentMode atomic.Bool

// SetAgentMode toggles machine-readable output for the process.
func SetAgentMode(on bool) {
	agentMode.Store(on)
}

// IsAgentMode reports whether output is being consumed by an automation
// rather than a person. SHAPER_AGENT_MODE=1 forces it on.
func IsAgentMode() bool {
	if v := os.Getenv("SHAPER_AGENT_MODE"); v != "" && v != "0" {
		return true
	}
	return agentMode.Load()
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor decides whether styled output is appropriate.
// Follows https://no-color.org and https://bixense.com/clicolors/:
// NO_COLOR wins over everything, CLICOLOR_FORCE enables color even when
// stdout is not a TTY, CLICOLOR=0 disables it.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	if force := os.Getenv("CLICOLOR_FORCE"); force != "" && force != "0" {
		return true
	}
	if !IsTerminal() {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// ShouldUseEmoji reports whether icon glyphs are appropriate for stdout.
// SHAPER_NO_EMOJI disables them regardless of terminal state.
func ShouldUseEmoji() bool {
	if os.Getenv("SHAPER_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}

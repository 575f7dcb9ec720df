package ui

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	envNoColor = "NO_COLOR"
	envCI      = "CI"
	envTerm    = "TERM"
)

var colorState struct {
	once    sync.Once
	enabled bool
}

// ConfigureColor picks the lipgloss color profile once per process. Color
// is off when disabled is set, when NO_COLOR or CI is truthy, on a dumb
// terminal, or when stdout is not a terminal.
func ConfigureColor(disabled bool) {
	colorState.once.Do(func() {
		colorState.enabled = detectColor(disabled)
		if colorState.enabled {
			lipgloss.SetColorProfile(termenv.ColorProfile())
			return
		}
		lipgloss.SetColorProfile(termenv.Ascii)
	})
}

// ColorEnabled reports the decision made by ConfigureColor.
func ColorEnabled() bool {
	ConfigureColor(false)
	return colorState.enabled
}

func detectColor(disabled bool) bool {
	if disabled {
		return false
	}
	if _, set := os.LookupEnv(envNoColor); set || envTruthy(envCI) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(envTerm)), "dumb") {
		return false
	}
	return stdoutIsTerminal()
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

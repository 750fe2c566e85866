package progress

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	envNoInteraction = "NO_INTERACTION"
	envCI            = "CI"
	envTerm          = "TERM"
)

// ConfigureInteraction decides whether the live view may be used and sets the
// lipgloss color profile to match. It returns true for an interactive terminal.
func ConfigureInteraction(forcePlain bool, out *os.File) bool {
	interactive := detectInteractiveMode(forcePlain, out)
	if interactive {
		lipgloss.SetColorProfile(termenv.NewOutput(out).ColorProfile())
		return true
	}

	lipgloss.SetColorProfile(termenv.Ascii)
	return false
}

func detectInteractiveMode(forcePlain bool, out *os.File) bool {
	if forcePlain || out == nil {
		return false
	}
	if envTruthy(envNoInteraction) || envTruthy(envCI) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(envTerm)), "dumb") {
		return false
	}

	info, err := out.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

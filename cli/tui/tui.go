package tui

import (
	"fmt"

	"github.com/pithecene-io/streamrun/metrics"
)

// Run starts the appropriate TUI for mode ("inspect" or "stats") over
// snap. Returns an error if mode isn't supported.
func Run(mode string, snap metrics.Snapshot) error {
	if !IsTUISupported(mode) {
		return fmt.Errorf("tui: mode %q is not supported", mode)
	}
	switch mode {
	case "inspect":
		return RunInspectTUI(snap)
	case "stats":
		return RunStatsTUI(snap)
	default:
		return fmt.Errorf("tui: unknown mode %q", mode)
	}
}

// IsTUISupported reports whether mode supports TUI rendering.
func IsTUISupported(mode string) bool {
	for _, m := range SupportedTUIModes() {
		if m == mode {
			return true
		}
	}
	return false
}

// SupportedTUIModes returns the list of modes that support TUI mode.
func SupportedTUIModes() []string {
	return []string{"inspect", "stats"}
}

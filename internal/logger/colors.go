package logger

import (
	"github.com/fatih/color"
)

// Header prints a bold section heading, used above per-database
// listings.
func Header(format string, args ...interface{}) {
	_, _ = InfoColor.Printf(format+"\n", args...)
}

// DisableColors turns off all color output (non-TTY or NO_COLOR).
func DisableColors() {
	color.NoColor = true
}

// IsColorEnabled reports whether colors are on.
func IsColorEnabled() bool {
	return !color.NoColor
}

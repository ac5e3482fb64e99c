// Package scripts provides the JavaScript flycli injects into proxied pages.
package scripts

import (
	_ "embed"
	"strings"
)

//go:embed launcher.js
var launcherJS string

// Launcher returns the floating launcher script body, without tags.
func Launcher() string {
	return strings.TrimSpace(launcherJS)
}

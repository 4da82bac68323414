//go:build debug

package debug

import "southwinds.dev/keycache/internal/logging"

const Debug = true

// Print traces a state transition. Only compiled in with -tags debug
func Print(format string, args ...interface{}) {
	logging.Debugf("TRACE: "+format, args...)
}

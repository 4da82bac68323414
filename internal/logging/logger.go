// Package logging holds the process logger shared by the cache, its collaborators
// and the host command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers either use the helper functions
// below or L directly for structured key/value output.
var L = clog.NewWithOptions(os.Stderr, clog.Options{
	ReportTimestamp: true,
	Prefix:          "keycache",
})

// Configure sets the output level and, when w is non-nil, the destination.
// Unknown levels fall back to info.
func Configure(level string, w io.Writer) {
	if w != nil {
		L.SetOutput(w)
	}
	lvl, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = clog.InfoLevel
		L.Warn("unknown log level, using info", "level", level)
	}
	L.SetLevel(lvl)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Package display renders the "key is cached" indicator.
package display

import (
	"sync"

	clog "github.com/charmbracelet/log"

	"southwinds.dev/keycache/internal/logging"
)

// Indicator is a fire-and-forget sink for the cached state
type Indicator interface {
	Show()
	Hide()
}

// NoOpIndicator ignores every call
type NoOpIndicator struct{}

func (NoOpIndicator) Show() {}
func (NoOpIndicator) Hide() {}

// LogIndicator reports visibility changes through the process logger.
// Repeated Show or Hide calls are collapsed into one line.
type LogIndicator struct {
	mu      sync.Mutex
	logger  *clog.Logger
	title   string
	visible bool
}

// NewLogIndicator creates an indicator; a nil logger uses logging.L
func NewLogIndicator(logger *clog.Logger, title string) *LogIndicator {
	if logger == nil {
		logger = logging.L
	}
	if title == "" {
		title = "Passphrase Cached"
	}
	return &LogIndicator{logger: logger, title: title}
}

func (i *LogIndicator) Show() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.visible {
		return
	}
	i.visible = true
	i.logger.Info(i.title, "indicator", "shown")
}

func (i *LogIndicator) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.visible {
		return
	}
	i.visible = false
	i.logger.Info(i.title, "indicator", "hidden")
}

// Visible reports the last state rendered
func (i *LogIndicator) Visible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible
}

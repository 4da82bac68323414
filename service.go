package keycache

import (
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// Command is an inbound lifecycle command from the host process
type Command string

const (
	CommandActivityStart     Command = "activity-start"
	CommandActivityStop      Command = "activity-stop"
	CommandClearKey          Command = "clear-key"
	CommandPassphraseExpired Command = "passphrase-expired"
)

// ParseCommand maps a command string to a Command
func ParseCommand(s string) (Command, error) {
	switch cmd := Command(strings.ToLower(strings.TrimSpace(s))); cmd {
	case CommandActivityStart, CommandActivityStop, CommandClearKey, CommandPassphraseExpired:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Service is the handle dependents receive instead of looking the cache up globally
type Service interface {
	// SetSecret caches key, taking ownership of it. The caller's slice is wiped.
	SetSecret(key []byte) error

	// GetSecret returns the cached key buffer, or nil when locked. The buffer is
	// destroyed when the key is cleared, so its bytes must not be read outside
	// WithSecret.
	GetSecret() *memguard.LockedBuffer

	// WithSecret runs fn with the key, holding off clears until fn returns.
	// It is the supported way to read the key.
	WithSecret(fn func(key []byte) error) error

	OnActivityStarted() error
	OnActivityStopped() error
	OnClearRequested() error
	OnTimerFired() error

	// Handle dispatches a lifecycle command to the matching operation
	Handle(cmd Command) error

	State() State
	SecureMemoryProtection() string
	Close() error
}

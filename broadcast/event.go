package broadcast

import (
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// EventType identifies what happened to the cached key
type EventType string

const (
	// KeyChanged is published when a new key is cached
	KeyChanged EventType = "key-changed"

	// KeyExpired is published when the key was evicted by the inactivity timeout
	KeyExpired EventType = "key-expired"
)

// Event is delivered to every subscriber holding the channel permission
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Secret identifies the newly cached key buffer for KeyChanged events, nil otherwise.
	// The cache destroys it when the key is cleared, which can happen at any
	// moment, so subscribers read the key through the cache's WithSecret and
	// never through Secret.Bytes(). A cached empty key has a buffer that is never alive.
	Secret *memguard.LockedBuffer `json:"-"`
}

// NewKeyChangedEvent wraps a frozen key buffer
func NewKeyChangedEvent(secret *memguard.LockedBuffer) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   KeyChanged,
		Time:   time.Now().UTC(),
		Secret: secret,
	}
}

// NewKeyExpiredEvent carries no payload
func NewKeyExpiredEvent() Event {
	return Event{
		ID:   uuid.NewString(),
		Type: KeyExpired,
		Time: time.Now().UTC(),
	}
}

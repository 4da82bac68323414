// Package broadcast implements the permissioned publish/subscribe channel the
// cache announces key changes and expiries on. Only holders of the channel's
// capability token may subscribe or publish.
package broadcast

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned when the presented token does not match
	ErrPermissionDenied = errors.New("broadcast: permission denied")

	// ErrNoSubscribers is returned by Publish when nobody is listening
	ErrNoSubscribers = errors.New("broadcast: no subscribers")

	// ErrChannelClosed is returned after Close
	ErrChannelClosed = errors.New("broadcast: channel is closed")
)

// DeliveryError reports subscribers that missed an event because their buffer was full
type DeliveryError struct {
	EventType EventType
	Dropped   []string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("broadcast: %s dropped for %d subscriber(s)", e.EventType, len(e.Dropped))
}

// Publisher is the half of the channel the cache depends on
type Publisher interface {
	Publish(permission string, ev Event) error
}

// Subscription receives events until closed
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	channel *Channel
	once    sync.Once
}

// Close unsubscribes. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.channel.remove(s.ID)
	})
}

// Channel fans events out to its subscribers
type Channel struct {
	permission []byte

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewChannel creates a channel gated by permission
func NewChannel(permission string) (*Channel, error) {
	if permission == "" {
		return nil, fmt.Errorf("permission cannot be empty")
	}
	return &Channel{
		permission: []byte(permission),
		subs:       make(map[string]*Subscription),
	}, nil
}

func (c *Channel) allowed(permission string) bool {
	return subtle.ConstantTimeCompare(c.permission, []byte(permission)) == 1
}

// Subscribe registers a new subscriber with the given event buffer size
func (c *Channel) Subscribe(permission string, buffer int) (*Subscription, error) {
	if !c.allowed(permission) {
		return nil, ErrPermissionDenied
	}
	if buffer < 1 {
		buffer = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChannelClosed
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{
		ID:      uuid.NewString(),
		C:       ch,
		ch:      ch,
		channel: c,
	}
	c.subs[sub.ID] = sub
	return sub, nil
}

func (c *Channel) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(sub.ch)
	}
}

// Publish delivers ev to every subscriber without blocking. Subscribers with a
// full buffer miss the event and are reported in a *DeliveryError.
func (c *Channel) Publish(permission string, ev Event) error {
	if !c.allowed(permission) {
		return ErrPermissionDenied
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}
	if len(c.subs) == 0 {
		return ErrNoSubscribers
	}

	var dropped []string
	for id, sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, id)
		}
	}

	if len(dropped) > 0 {
		return &DeliveryError{EventType: ev.Type, Dropped: dropped}
	}
	return nil
}

// Subscribers returns the number of active subscriptions
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Close unsubscribes everyone and rejects further use
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
	c.closed = true
	return nil
}

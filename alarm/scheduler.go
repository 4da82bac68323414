// Package alarm provides the deferred single-shot callback service the cache
// arms its inactivity expiry on.
package alarm

import (
	"errors"
	"time"
)

var (
	// ErrSchedulerClosed is returned when arming after Close
	ErrSchedulerClosed = errors.New("alarm: scheduler is closed")

	// ErrInvalidDeadline is returned for a zero deadline
	ErrInvalidDeadline = errors.New("alarm: deadline must be set")

	// ErrMissingToken is returned when arming without a token
	ErrMissingToken = errors.New("alarm: token cannot be empty")
)

// Scheduler fires a callback once at an absolute time. At most one registration
// exists per token: arming an armed token replaces the earlier registration and
// cancelling an unknown token is a no-op.
type Scheduler interface {
	Arm(token string, deadline time.Time, fire func()) error
	Cancel(token string)
}

package keycache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by every command after Close
	ErrClosed = errors.New("keycache: cache is closed")

	// ErrNoSecret is returned by WithSecret when no key is cached
	ErrNoSecret = errors.New("keycache: no key cached")

	// ErrUnknownCommand is returned by Handle for an unrecognised lifecycle command
	ErrUnknownCommand = errors.New("keycache: unknown command")

	// ErrAlarmArm matches any *AlarmArmError through errors.Is
	ErrAlarmArm = errors.New("keycache: failed to arm expiry alarm")
)

// AlarmArmError reports that the scheduler rejected the expiry alarm. While it
// persists the cached key will not expire on its own.
type AlarmArmError struct {
	Deadline time.Time
	Err      error
}

func (e *AlarmArmError) Error() string {
	return fmt.Sprintf("%v for %s: %v", ErrAlarmArm, e.Deadline.Format(time.RFC3339), e.Err)
}

func (e *AlarmArmError) Unwrap() error { return e.Err }

func (e *AlarmArmError) Is(target error) bool { return target == ErrAlarmArm }

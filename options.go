package keycache

import (
	"fmt"
	"time"

	"southwinds.dev/keycache/alarm"
	"southwinds.dev/keycache/audit"
	"southwinds.dev/keycache/broadcast"
	"southwinds.dev/keycache/display"
	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

// Options wires the cache to its collaborators. Scheduler, Publisher and
// Settings are required; the rest default to no-op implementations.
type Options struct {
	// Scheduler arms and cancels the inactivity expiry alarm
	Scheduler alarm.Scheduler

	// Publisher receives key-changed and key-expired events
	Publisher broadcast.Publisher

	// Permission is the capability token presented when publishing.
	// Defaults to misc.DefaultPermission.
	Permission string

	// Settings supplies the timeout configuration, read on each arming decision
	Settings settings.Provider

	// Indicator displays whether a key is cached
	Indicator display.Indicator

	// Audit records state transitions
	Audit audit.Logger

	// AlarmToken identifies the expiry alarm. Defaults to misc.ExpiryAlarmToken.
	AlarmToken string

	// EnableMemoryLock asks for the whole process to be locked into RAM.
	// Failure is logged, not fatal; memguard buffers are always locked.
	EnableMemoryLock bool

	// Now overrides the clock used to compute alarm deadlines
	Now func() time.Time
}

func validateOptions(opts *Options) error {
	if opts.Scheduler == nil {
		return fmt.Errorf("scheduler is required")
	}
	if opts.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if opts.Settings == nil {
		return fmt.Errorf("settings provider is required")
	}

	if opts.Permission == "" {
		opts.Permission = misc.DefaultPermission
	}
	if opts.AlarmToken == "" {
		opts.AlarmToken = misc.ExpiryAlarmToken
	}
	if opts.Indicator == nil {
		opts.Indicator = display.NoOpIndicator{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return nil
}

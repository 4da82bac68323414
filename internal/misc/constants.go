package misc

import "time"

const (
	// DefaultTimeoutMinutes is used when no valid timeout interval is configured
	DefaultTimeoutMinutes = 5

	// DefaultTimeoutInterval is DefaultTimeoutMinutes as a duration
	DefaultTimeoutInterval = DefaultTimeoutMinutes * time.Minute

	// ExpiryAlarmToken is the single fixed token the cache arms its expiry alarm under
	ExpiryAlarmToken = "keycache.action.PASSPHRASE_EXPIRED"

	// DefaultPermission gates the key event channel
	DefaultPermission = "keycache.permission.ACCESS_SECRETS"

	// DefaultSubscriberBuffer is the per-subscriber event buffer size
	DefaultSubscriberBuffer = 16

	// FingerprintSize is the number of hash bytes kept for key fingerprints
	FingerprintSize = 8

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)

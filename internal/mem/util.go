package mem

// ProtectionLevel indicates how well the process memory holding the cached key is protected
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // No memory protection available
	ProtectionPartial                        // memguard buffers only, heap may be swapped
	ProtectionFull                           // Whole process locked into RAM
)

// String returns a human-readable description of the level
func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionNone:
		return "None - sensitive data may be swapped to disk"
	case ProtectionPartial:
		return "Partial - key buffers locked, process heap may be swapped"
	case ProtectionFull:
		return "Full - memory locked and protected from swapping"
	default:
		return "Unknown"
	}
}

// Lock attempts to prevent the whole process from being swapped to disk.
// Returns the protection level achieved and any error encountered
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases memory locks if they were applied
func Unlock() error {
	return unlockMemoryPlatform()
}

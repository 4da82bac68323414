//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// memguard locks its own pages with VirtualLock; the rest of the heap is not locked
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}

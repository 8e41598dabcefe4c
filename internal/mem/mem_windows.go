//go:build windows

package mem

// VirtualLock pins individual regions rather than the whole address
// space and carries a small working-set quota, so on Windows we settle
// for wiping without pinning.
func lockPlatform() (ProtectionLevel, error) {
	return ProtectionPartial, nil
}

func unlockPlatform() error {
	return nil
}

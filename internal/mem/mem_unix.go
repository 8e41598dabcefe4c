//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package mem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func lockPlatform() (ProtectionLevel, error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		// EPERM means the RLIMIT_MEMLOCK budget or privileges are
		// insufficient; ENOSYS means the kernel lacks mlockall.
		// Both are survivable, sensitive buffers are still wiped.
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
			return ProtectionPartial, nil
		}
		return ProtectionNone, fmt.Errorf("mlockall: %w", err)
	}
	return ProtectionFull, nil
}

func unlockPlatform() error {
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("munlockall: %w", err)
	}
	return nil
}

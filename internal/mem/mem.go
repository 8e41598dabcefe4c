// Package mem wires process-wide memory locking so derived key material
// is less likely to be swapped to disk. Locking is best effort: the
// caller degrades gracefully when the platform or privileges do not
// allow it.
package mem

// ProtectionLevel reports how much swap protection Lock achieved.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // nothing locked
	ProtectionPartial                        // locking unavailable or denied, wiping still applies
	ProtectionFull                           // all current and future pages locked
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "full"
	case ProtectionPartial:
		return "partial"
	default:
		return "none"
	}
}

// Lock attempts to pin the process address space in RAM and reports the
// level of protection achieved.
func Lock() (ProtectionLevel, error) {
	return lockPlatform()
}

// Unlock releases any memory locks applied by Lock.
func Unlock() error {
	return unlockPlatform()
}

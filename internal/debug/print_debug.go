//go:build debug

// Package debug provides build-tag gated diagnostic output. Compiling
// with -tags debug enables Print; without the tag every call compiles
// to a no-op.
package debug

import (
	"fmt"
	"os"
)

const Debug = true

func Print(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", args...)
}

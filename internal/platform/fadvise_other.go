//go:build !linux

package platform

import "os"

// advise is a no-op on non-Linux platforms (posix_fadvise is Linux-only here).
func advise(_ *os.File, _ Advice) {}

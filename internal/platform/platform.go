// Package platform wraps OS-specific hints for reading large source trees.
package platform

import "os"

// Advice is a page-cache access hint for an open file.
type Advice int

const (
	// Sequential tells the kernel the file will be read front to back.
	Sequential Advice = iota
	// DontNeed releases cached pages for the file.
	DontNeed
)

func (a Advice) String() string {
	switch a {
	case Sequential:
		return "sequential"
	case DontNeed:
		return "dontneed"
	default:
		return "unknown"
	}
}

// Advise applies advice to the whole of f. Errors are ignored: the hint
// is advisory and not supported on every filesystem.
func Advise(f *os.File, advice Advice) {
	advise(f, advice)
}

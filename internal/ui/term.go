package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fd fits in int
}

// Width returns the column count of the terminal behind f, or 0 if f is not
// a terminal.
func Width(f *os.File) int {
	if !IsTTY(f) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // G115: fd fits in int
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

// clip shortens line to at most width runes. A width of 0 leaves it alone.
func clip(line string, width int) string {
	if width <= 0 {
		return line
	}
	r := []rune(line)
	if len(r) <= width {
		return line
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

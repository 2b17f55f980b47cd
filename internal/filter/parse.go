package filter

import (
	"fmt"
	"os"
	"strings"
)

// LoadFile appends the rules in path, one per line. Blank lines and lines
// starting with # are skipped; surrounding whitespace is trimmed.
func (c *Chain) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if err := c.AddIgnore(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
	}
	return nil
}

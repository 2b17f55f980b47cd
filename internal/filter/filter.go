// Package filter implements the ignore rules applied to every segment.
package filter

// Chain holds an ordered list of ignore rules. Any match ignores the path.
type Chain struct {
	rules []*rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// NewChainFrom compiles every rule into a new chain.
func NewChainFrom(rules []string) (*Chain, error) {
	c := NewChain()
	for _, r := range rules {
		if err := c.AddIgnore(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddIgnore adds an ignore rule: an absolute literal path, or a glob.
func (c *Chain) AddIgnore(text string) error {
	r, err := compileRule(text)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, r)
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0
}

// Len returns the number of rules.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Ignored returns true if absPath should be left out of every segment.
// A nil chain ignores nothing.
func (c *Chain) Ignored(absPath string, isDir bool) bool {
	if c == nil {
		return false
	}
	for _, r := range c.rules {
		if r.match(absPath, isDir) {
			return true
		}
	}
	return false
}

package filter

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// rule is one compiled ignore rule. Exactly one of literal, base and segs
// is set.
type rule struct {
	literal string   // absolute path; covers itself and everything below
	base    string   // glob without a slash, matched against the base name
	segs    []string // glob with a slash, matched segment by segment
	dirOnly bool     // rule ended in "/"
}

// compileRule parses an ignore rule. Absolute paths without glob
// metacharacters are literal prefixes. Other rules are globs in the style
// of path.Match, extended with "**" (any number of path segments) and
// "[!...]" negated classes. A relative glob containing a slash matches at
// any depth.
func compileRule(text string) (*rule, error) {
	r := &rule{}
	pat := text
	if len(pat) > 1 && strings.HasSuffix(pat, "/") {
		r.dirOnly = true
		pat = strings.TrimRight(pat, "/")
	}

	if filepath.IsAbs(pat) && !strings.ContainsAny(pat, `*?[\`) {
		r.literal = filepath.Clean(pat)
		return r, nil
	}

	pat = strings.ReplaceAll(filepath.ToSlash(pat), "[!", "[^")
	if !strings.Contains(pat, "/") {
		if _, err := path.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("ignore rule %q: %w", text, err)
		}
		r.base = pat
		return r, nil
	}

	anchored := strings.HasPrefix(pat, "/")
	for _, s := range strings.Split(strings.Trim(pat, "/"), "/") {
		if s == "" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("ignore rule %q: %w", text, err)
		}
		r.segs = append(r.segs, s)
	}
	if !anchored && (len(r.segs) == 0 || r.segs[0] != "**") {
		r.segs = append([]string{"**"}, r.segs...)
	}
	return r, nil
}

func (r *rule) match(absPath string, isDir bool) bool {
	switch {
	case r.literal != "":
		if !Within(absPath, r.literal) {
			return false
		}
		// A dir-only literal still covers everything beneath the directory.
		return !r.dirOnly || isDir || absPath != r.literal
	case r.dirOnly && !isDir:
		return false
	case r.base != "":
		ok, _ := path.Match(r.base, filepath.Base(absPath)) //nolint:errcheck // validated in compileRule
		return ok
	default:
		name := strings.Split(strings.Trim(filepath.ToSlash(absPath), "/"), "/")
		return matchSegments(r.segs, name)
	}
}

// matchSegments matches path segments against glob segments, where "**"
// consumes zero or more segments.
func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for i := len(name); i >= 0; i-- {
				if matchSegments(pat[1:], name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], name[0]); !ok { //nolint:errcheck // validated in compileRule
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// Within reports whether path equals root or lies beneath it. Both paths
// must be clean and absolute; the test is per path component, so /data/logs2
// is not within /data/logs.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

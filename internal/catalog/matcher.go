package catalog

import (
	"regexp"
	"strings"
)

// Matcher tests URLs against one glob pattern. "*" matches any run of
// characters; everything else is literal. Matching is case-insensitive and
// anchored at both ends.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
	err     error
}

// Compile builds a Matcher. A pattern that fails to compile yields a Matcher
// that never matches; Err reports why.
func Compile(pattern string) *Matcher {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return &Matcher{pattern: pattern, err: err}
	}
	return &Matcher{pattern: pattern, re: re}
}

// Test reports whether url matches the pattern.
func (m *Matcher) Test(url string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(url)
}

// Pattern returns the source glob.
func (m *Matcher) Pattern() string { return m.pattern }

// Err returns the compile error, if any.
func (m *Matcher) Err() error { return m.err }

// Package condition compiles and evaluates job trigger conditions.
//
// The only conditional form is a tag pattern: a dot-separated sequence of
// segments where literal characters match themselves and `*` matches one or
// more ASCII digits. `v*.*.*` matches the tag `v1.2.3` but not `v1.2.x` or a
// branch push. Patterns are compiled once at graph-build time; a malformed
// pattern is a definition error, never a run-time one.
package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/stagehand/internal/trigger"
)

// Condition is a compiled, pure predicate over a trigger context.
type Condition struct {
	pattern string
	re      *regexp.Regexp
}

// Always is the nil Condition: eligible for every trigger context.
var Always *Condition

// Compile translates a tag pattern into a Condition. An empty pattern is
// rejected; use Always (nil) for unconditional jobs.
func Compile(pattern string) (*Condition, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty tag pattern")
	}
	var sb strings.Builder
	sb.WriteString(`\A`)
	for _, r := range pattern {
		switch {
		case r == '*':
			sb.WriteString(`[0-9]+`)
		case r == '.':
			sb.WriteString(`\.`)
		case r == '-' || r == '_':
			sb.WriteRune(r)
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			return nil, fmt.Errorf("tag pattern %q: unsupported character %q", pattern, r)
		}
	}
	sb.WriteString(`\z`)
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("tag pattern %q: %w", pattern, err)
	}
	return &Condition{pattern: pattern, re: re}, nil
}

// Eligible reports whether a job guarded by this condition may run for the
// given trigger context. A nil Condition is always eligible.
func (c *Condition) Eligible(tc trigger.Context) bool {
	if c == nil {
		return true
	}
	return tc.Kind == trigger.Tag && c.re.MatchString(tc.Tag)
}

// Pattern returns the source pattern, or "" for the always-eligible condition.
func (c *Condition) Pattern() string {
	if c == nil {
		return ""
	}
	return c.pattern
}

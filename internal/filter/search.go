package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Search describes a text search over message payloads. Literal searches
// match substrings; regex searches must match the whole payload.
type Search struct {
	Text          string
	CaseSensitive bool
	Regex         bool
}

// Matcher is a compiled Search.
type Matcher struct {
	search Search
	needle string
	re     *regexp.Regexp
}

// Compile prepares s for matching.
func (s Search) Compile() (*Matcher, error) {
	m := &Matcher{search: s}
	if s.Regex {
		// . also matches newlines so multi-line payloads can match whole.
		flags := "(?s)"
		if !s.CaseSensitive {
			flags = "(?is)"
		}
		expr := flags + "^(?:" + s.Text + ")$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid search pattern %q: %w", s.Text, err)
		}
		m.re = re
		return m, nil
	}

	m.needle = s.Text
	if !s.CaseSensitive {
		m.needle = strings.ToLower(s.Text)
	}
	return m, nil
}

// Match reports whether text satisfies the search.
func (m *Matcher) Match(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	if !m.search.CaseSensitive {
		text = strings.ToLower(text)
	}
	return strings.Contains(text, m.needle)
}

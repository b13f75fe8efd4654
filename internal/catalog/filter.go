package catalog

import (
	"fmt"
	"regexp"
)

// Selector decides which distfiles are scanned.
type Selector struct {
	pattern    *regexp.Regexp
	matchNames bool
	denylist   map[string]struct{}
}

// NewSelector compiles pattern. Like a prefix match, the pattern is anchored
// at the start of the candidate but not at the end. With matchNames set the
// pattern is tested against filenames rather than URIs.
func NewSelector(pattern string, matchNames bool, denylist []string) (*Selector, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}

	deny := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		deny[name] = struct{}{}
	}

	return &Selector{pattern: re, matchNames: matchNames, denylist: deny}, nil
}

// Denied reports whether name is on the deny-list.
func (s *Selector) Denied(name string) bool {
	_, ok := s.denylist[name]
	return ok
}

// Match reports whether the entry passes the pattern, ignoring the deny-list.
func (s *Selector) Match(name string, uris []string) bool {
	if s.matchNames {
		return s.pattern.MatchString(name)
	}
	for _, uri := range uris {
		if s.pattern.MatchString(uri) {
			return true
		}
	}
	return false
}

// Filter removes, in place, every entry that does not match and every
// deny-listed entry, and returns fm.
func (s *Selector) Filter(fm FetchMap) FetchMap {
	for name, uris := range fm {
		if s.Denied(name) || !s.Match(name, uris) {
			delete(fm, name)
		}
	}
	return fm
}

// Package pattern compiles the structural patterns of declarative problems
// and matches submissions against them.
package pattern

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
	"sync"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// Set is the ordered, compiled pattern list of one problem.
type Set struct {
	sources []string
	res     []*regexp.Regexp
}

// Compile compiles every pattern in order. Patterns are either bare RE2
// expressions or slash-delimited literals such as /select\s+\*/i.
func Compile(patterns []string) (*Set, error) {
	s := &Set{
		sources: make([]string, len(patterns)),
		res:     make([]*regexp.Regexp, len(patterns)),
	}
	for i, p := range patterns {
		expr, err := Normalize(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", domain.ErrInvalidPattern, i, err)
		}
		s.sources[i] = p
		s.res[i] = re
	}
	return s, nil
}

// Validate reports the first pattern that would not compile, without
// building any matcher.
func Validate(patterns []string) error {
	for i, p := range patterns {
		expr, err := Normalize(p)
		if err != nil {
			return fmt.Errorf("pattern %d: %w", i, err)
		}
		if _, err := syntax.Parse(expr, syntax.Perl); err != nil {
			return fmt.Errorf("%w: pattern %d: %v", domain.ErrInvalidPattern, i, err)
		}
	}
	return nil
}

// Normalize turns a pattern into an RE2 expression. Slash literals keep
// their i, m and s flags as inline flags. The g, u and y flags have no
// meaning for a single unanchored search and are dropped.
func Normalize(p string) (string, error) {
	if len(p) < 2 || p[0] != '/' {
		return p, nil
	}
	end := strings.LastIndexByte(p, '/')
	if end == 0 {
		return p, nil
	}

	body, flags := p[1:end], p[end+1:]
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			// Not a flag suffix, so the slashes are part of the expression.
			return p, nil
		}
	}
	if body == "" {
		return "", fmt.Errorf("%w: empty pattern literal", domain.ErrInvalidPattern)
	}
	if inline.Len() == 0 {
		return body, nil
	}
	return "(?" + inline.String() + ")" + body, nil
}

// Len returns the number of patterns.
func (s *Set) Len() int { return len(s.res) }

// Source returns the pattern at index i as written in the catalog.
func (s *Set) Source(i int) string { return s.sources[i] }

// Match reports the index of the first pattern found anywhere in text, or
// -1 when none matches.
func (s *Set) Match(text string) int {
	for i, re := range s.res {
		if re.MatchString(text) {
			return i
		}
	}
	return -1
}

// Cache holds the compiled pattern sets of one catalog snapshot. Each set
// is compiled at most once even under concurrent first use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	once sync.Once
	set  *Set
	err  error
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Get returns the compiled set for a problem, compiling it on first use.
func (c *Cache) Get(problemID string, patterns []string) (*Set, error) {
	c.mu.Lock()
	e, ok := c.entries[problemID]
	if !ok {
		e = &entry{}
		c.entries[problemID] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.set, e.err = Compile(patterns)
	})
	return e.set, e.err
}

// Len returns the number of problems with a cache entry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

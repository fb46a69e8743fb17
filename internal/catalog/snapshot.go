package catalog

import (
	"fmt"
	"slices"
	"time"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/pattern"
)

// Snapshot is one immutable loaded version of the catalog together with the
// compiled patterns of its declarative problems.
type Snapshot struct {
	problems map[string]*domain.Problem
	order    []*domain.Problem
	byLang   map[string][]*domain.Problem
	patterns *pattern.Cache
	loadedAt time.Time
}

// NewSnapshot indexes problems, rejecting duplicate ids and patterns that
// do not compile. Pattern sets are compiled on first use.
func NewSnapshot(problems []*domain.Problem) (*Snapshot, error) {
	s := &Snapshot{
		problems: make(map[string]*domain.Problem, len(problems)),
		order:    make([]*domain.Problem, 0, len(problems)),
		byLang:   make(map[string][]*domain.Problem),
		patterns: pattern.NewCache(),
		loadedAt: time.Now(),
	}

	for _, p := range problems {
		if _, ok := s.problems[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateProblem, p.ID)
		}
		if len(p.ValidPatterns) > 0 {
			if err := pattern.Validate(p.ValidPatterns); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidProblem, p.ID, err)
			}
		}
		s.problems[p.ID] = p
		s.order = append(s.order, p)
		s.byLang[p.Language] = append(s.byLang[p.Language], p)
	}

	return s, nil
}

// Problem returns a problem by id
func (s *Snapshot) Problem(id string) (*domain.Problem, error) {
	p, ok := s.problems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProblemNotFound, id)
	}
	return p, nil
}

// Problems returns all problems in load order
func (s *Snapshot) Problems() []*domain.Problem {
	return slices.Clone(s.order)
}

// ByLanguage returns the problems of one language in load order
func (s *Snapshot) ByLanguage(lang string) []*domain.Problem {
	return slices.Clone(s.byLang[lang])
}

// ByTag returns problems carrying a tag
func (s *Snapshot) ByTag(tag string) []*domain.Problem {
	var out []*domain.Problem
	for _, p := range s.order {
		if p.HasTag(tag) {
			out = append(out, p)
		}
	}
	return out
}

// Languages returns the sorted languages that have at least one problem
func (s *Snapshot) Languages() []string {
	langs := make([]string, 0, len(s.byLang))
	for l := range s.byLang {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Patterns returns the compiled pattern set of a problem. The set is owned
// by this snapshot, so a reload never serves stale patterns.
func (s *Snapshot) Patterns(p *domain.Problem) (*pattern.Set, error) {
	if s.problems[p.ID] != p {
		// Not one of ours: compile without caching.
		return pattern.Compile(p.ValidPatterns)
	}
	return s.patterns.Get(p.ID, p.ValidPatterns)
}

// Len returns the number of problems
func (s *Snapshot) Len() int {
	return len(s.order)
}

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Stats returns statistics about the snapshot
func (s *Snapshot) Stats() Stats {
	stats := Stats{
		ProblemCount: len(s.order),
		ByLanguage:   make(map[string]int, len(s.byLang)),
		ByDifficulty: make(map[string]int),
		PatternSets:  s.patterns.Len(),
	}
	for lang, ps := range s.byLang {
		stats.ByLanguage[lang] = len(ps)
	}
	for _, p := range s.order {
		stats.ByDifficulty[string(p.Difficulty)]++
	}
	return stats
}

// Stats holds statistics about a snapshot
type Stats struct {
	ProblemCount int
	ByLanguage   map[string]int
	ByDifficulty map[string]int
	// PatternSets counts the pattern sets compiled so far.
	PatternSets int
}

package domain

import "slices"

// Problem is a single graded drill in the catalog.
type Problem struct {
	ID             string // language-prefixed slug: "python-sum-list"
	Language       string
	Category       string
	Difficulty     Difficulty
	Prompt         string
	SetupCode      string
	Expected       Expectation
	SampleSolution string
	ValidPatterns  []string // declarative languages only
	Hints          []string // ordered, least to most revealing
	Tags           []string
}

// HasTag reports whether the problem carries the given tag.
func (p *Problem) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

// Difficulty represents problem difficulty level
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid checks if the difficulty is one of the known levels
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// CompareMode selects how an expected value is compared with the value
// produced by a submission.
type CompareMode string

const (
	// CompareOrdered is deep equality with sequence order significant.
	CompareOrdered CompareMode = "ordered"
	// CompareUnordered treats top-level sequences as multisets.
	CompareUnordered CompareMode = "unordered"
	// CompareNone only requires the submission to run without error.
	CompareNone CompareMode = "none"
	// CompareNaN passes when the produced value is a NaN float.
	CompareNaN CompareMode = "nan"
	// CompareAnyOf passes when the produced value equals one of a list of
	// accepted values.
	CompareAnyOf CompareMode = "any_of"
)

// IsValid checks if the compare mode is known
func (m CompareMode) IsValid() bool {
	switch m {
	case CompareOrdered, CompareUnordered, CompareNone, CompareNaN, CompareAnyOf:
		return true
	}
	return false
}

// Expectation is the value an execution-mode problem expects, together with
// the rule used to compare against it.
type Expectation struct {
	Mode  CompareMode
	Value any
}

// Checks reports whether the submission must produce a value at all.
func (e Expectation) Checks() bool {
	return e.Mode != CompareNone
}

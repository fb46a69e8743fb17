package grader

import (
	"slices"

	"github.com/felixgeelhaar/drillgrade/internal/compare"
	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// outcome is what one grading path concluded, before it becomes a result.
// kind is empty on success.
type outcome struct {
	kind        domain.ErrorKind
	matched     int
	value       any
	hasValue    bool
	diagnostics []string
}

func passed() outcome {
	return outcome{matched: -1}
}

func failed(kind domain.ErrorKind, diagnostics ...string) outcome {
	return outcome{kind: kind, matched: -1, diagnostics: diagnostics}
}

// compose builds the result of one submission. Hints are attached in
// order on failure only.
func compose(problemID string, mode domain.Mode, o outcome, hints []string) *domain.ValidationResult {
	r := &domain.ValidationResult{
		ProblemID:     problemID,
		Passed:        o.kind == "",
		Mode:          mode,
		FailureReason: o.kind,
		Diagnostics:   slices.Clone(o.diagnostics),
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []string{}
	}
	if o.matched >= 0 {
		idx := o.matched
		r.MatchedPatternIndex = &idx
	}
	if o.hasValue {
		r.ActualValue = compare.Normalize(o.value)
	}
	if !r.Passed && len(hints) > 0 {
		r.Hints = slices.Clone(hints)
	}
	return r
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Mode is the grading strategy applied to a submission.
type Mode string

const (
	ModePattern   Mode = "pattern"
	ModeExecution Mode = "execution"
)

// ErrorKind classifies why a submission did not pass.
type ErrorKind string

const (
	ErrorNotFound           ErrorKind = "not_found"
	ErrorEmptySubmission    ErrorKind = "empty_submission"
	ErrorNoPatternMatch     ErrorKind = "no_pattern_match"
	ErrorValueMismatch      ErrorKind = "value_mismatch"
	ErrorCompile            ErrorKind = "compile_error"
	ErrorRuntime            ErrorKind = "runtime_error"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorSandboxUnavailable ErrorKind = "sandbox_unavailable"
	ErrorCanceled           ErrorKind = "canceled"
	ErrorCatalog            ErrorKind = "catalog_error"
)

// Retryable reports whether resubmitting the same text can produce a
// different result. Only infrastructure failures qualify.
func (k ErrorKind) Retryable() bool {
	return k == ErrorSandboxUnavailable
}

// Learner reports whether the failure was caused by the submitted text
// rather than by the grading infrastructure or the catalog.
func (k ErrorKind) Learner() bool {
	switch k {
	case ErrorEmptySubmission, ErrorNoPatternMatch, ErrorValueMismatch,
		ErrorCompile, ErrorRuntime, ErrorTimeout:
		return true
	}
	return false
}

// ValidationRequest asks for one submission to be graded.
type ValidationRequest struct {
	ID            uuid.UUID `json:"id"`
	ProblemID     string    `json:"problem_id"`
	SubmittedText string    `json:"submitted_text"`
}

// NewValidationRequest creates a request with a fresh id
func NewValidationRequest(problemID, text string) ValidationRequest {
	return ValidationRequest{
		ID:            uuid.New(),
		ProblemID:     problemID,
		SubmittedText: text,
	}
}

// ValidationResult is the graded outcome of one submission. Passed is true
// exactly when FailureReason is empty.
type ValidationResult struct {
	ProblemID           string        `json:"problem_id"`
	Passed              bool          `json:"passed"`
	Mode                Mode          `json:"mode,omitempty"`
	MatchedPatternIndex *int          `json:"matched_pattern_index,omitempty"`
	ActualValue         any           `json:"actual_value,omitempty"`
	FailureReason       ErrorKind     `json:"failure_reason,omitempty"`
	Diagnostics         []string      `json:"diagnostics"`
	Hints               []string      `json:"hints,omitempty"`
	Duration            time.Duration `json:"duration_ns"`
}

// NextHint returns the hint following the first seen hints, if any remain.
func (r *ValidationResult) NextHint(seen int) (string, bool) {
	if seen < 0 || seen >= len(r.Hints) {
		return "", false
	}
	return r.Hints[seen], true
}

// MarshalJSON encodes non-finite floats in ActualValue with the same
// sentinel objects the sandboxes use, since JSON has no literal for them.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	type plain ValidationResult
	out := plain(r)
	out.ActualValue = EncodeValue(r.ActualValue)
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *ValidationResult) UnmarshalJSON(data []byte) error {
	type plain ValidationResult
	var in struct {
		plain
		ActualValue json.RawMessage `json:"actual_value,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = ValidationResult(in.plain)
	r.ActualValue = nil
	if len(in.ActualValue) > 0 {
		v, err := DecodeValue(in.ActualValue)
		if err != nil {
			return err
		}
		r.ActualValue = v
	}
	return nil
}

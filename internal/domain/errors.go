package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors describe failures of the grading infrastructure itself. Learner
// mistakes are never errors; they are reported through ValidationResult with
// an ErrorKind.
// -----------------------------------------------------------------------------

// Catalog errors
var (
	ErrProblemNotFound  = errors.New("problem not found")
	ErrInvalidProblem   = errors.New("invalid problem")
	ErrDuplicateProblem = errors.New("duplicate problem id")
	ErrUnknownLanguage  = errors.New("unknown language")
)

// Pattern errors
var (
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Value errors
var (
	ErrInvalidValue = errors.New("invalid value encoding")
)

// General errors
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternalError = errors.New("internal error")
)

package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateContent marks a submission whose content hash already
	// exists in the graph or in an active job.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrConfigProtected marks an attempt to change a protected
	// configuration row without unprotecting it first.
	ErrConfigProtected = errors.New("configuration is protected")
	// ErrDimensionMismatch marks an embedding whose dimension does not
	// match the active embedding configuration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrNotResolvable marks a query endpoint that has no concept match
	// at or above the similarity threshold.
	ErrNotResolvable = errors.New("endpoint not resolvable")
	// ErrJobConflict marks a job state transition the state machine does
	// not allow.
	ErrJobConflict = errors.New("job state conflict")
	// ErrLLMParse marks extraction output that stayed malformed after all
	// retries.
	ErrLLMParse = errors.New("llm output parse failure")
)

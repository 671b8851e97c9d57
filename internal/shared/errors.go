package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request failed validation before any write.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates the tenancy context is missing or incomplete.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConcurrencyConflict indicates a concurrent writer won the race.
	// The operation made no partial writes and may be retried as a whole.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

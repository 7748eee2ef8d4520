package errors

import (
	"errors"
	"fmt"
)

// Custom error types for the link service

// ErrLinkNotFound is returned for every resolution failure: malformed key,
// unknown id, inactive or deleted record, or salt mismatch. Callers must not
// be able to tell these apart.
var ErrLinkNotFound = errors.New("link not found")

// ErrInvalidShortKey is returned when a short key fails the input format check
// (length and character set) before any lookup happens.
var ErrInvalidShortKey = errors.New("invalid short key format")

// ErrSaltGenerationFailed is returned when no random salt could be produced.
var ErrSaltGenerationFailed = errors.New("failed to generate salt")

// ValidationError is returned when creation input is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConsistencyError is returned when an insert reported a fingerprint conflict
// but the conflicting row could not be read back. It signals a concurrent
// hard delete and is a server fault, not a not-found.
type ConsistencyError struct {
	Fingerprint string
}

func (e ConsistencyError) Error() string {
	return fmt.Sprintf("link with fingerprint %s vanished after insert conflict", e.Fingerprint)
}

// ErrConfigLoad is returned when configuration loading fails
type ErrConfigLoad struct {
	Key    string
	Reason string
}

func (e ErrConfigLoad) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsConsistency reports whether err carries a ConsistencyError.
func IsConsistency(err error) bool {
	var ce ConsistencyError
	return errors.As(err, &ce)
}

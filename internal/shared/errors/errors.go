// Package errors defines the sentinel errors shared by the domain,
// application and infrastructure layers. Wrap them with %w and test with
// errors.Is.
package errors

import "errors"

// Domain errors
var (
	// Scan errors
	ErrScanNotFound        = errors.New("scan not found")
	ErrInvalidScanID       = errors.New("invalid scan ID")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidTransition   = errors.New("invalid scan status transition")
	ErrScanAlreadyTerminal = errors.New("scan already in a terminal state")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrCaptureFailed       = errors.New("page capture failed")

	// Pattern errors
	ErrPatternNotFound   = errors.New("pattern not found")
	ErrDuplicatePattern  = errors.New("pattern already exists")
	ErrInvalidPattern    = errors.New("invalid pattern")
	ErrEmptyPatternID    = errors.New("pattern id cannot be empty")
	ErrEmptyURLPatterns  = errors.New("pattern must declare at least one url pattern")
	ErrUnknownCategory   = errors.New("unknown script category")

	// Repository errors
	ErrRepositoryOperation   = errors.New("repository operation failed")
	ErrInvalidData           = errors.New("invalid data")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
)

package types

import "github.com/m-mizutani/goerr/v2"

// Error classes shared by every component. Callers wrap them with goerr.Wrap
// and match them with errors.Is.
var (
	// ErrInvalidParameter reports caller misuse. Never retried.
	ErrInvalidParameter = goerr.New("invalid parameter")

	// ErrTransient reports network, timeout or rate-limit failures of an
	// external capability. Retried with backoff.
	ErrTransient = goerr.New("transient service error")

	// ErrMalformedOutput reports data from an external capability that failed
	// structural validation. Retried without backoff.
	ErrMalformedOutput = goerr.New("malformed output")

	// ErrStoreFailure reports a failed persistence write.
	ErrStoreFailure = goerr.New("store failure")

	// ErrConfiguration is fatal at process start.
	ErrConfiguration = goerr.New("configuration error")

	// ErrEmbeddingFailure reports a failed fingerprint call.
	ErrEmbeddingFailure = goerr.New("embedding failure")

	// ErrZeroVector is returned when a fingerprint cannot be normalized.
	ErrZeroVector = goerr.New("fingerprint is an all-zero vector")

	// ErrAttemptsExhausted wraps the last error once the retry budget is spent.
	ErrAttemptsExhausted = goerr.New("retry attempts exhausted")

	// ErrSourceFailed marks a source that ended in the Failed state.
	ErrSourceFailed = goerr.New("source failed")

	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = goerr.New("not found")
)

// Domain errors for type validation
var (
	ErrInvalidDocumentID = goerr.New("invalid document ID")
	ErrInvalidRank       = goerr.New("rank must be >= 1")
	ErrInvalidSimilarity = goerr.New("similarity must be between -1 and 1")
	ErrEmptyContent      = goerr.New("content cannot be empty")
	ErrMissingSource     = goerr.New("source is required")
	ErrMissingCategory   = goerr.New("category is required")
)

package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dshills/paperdex/pkg/types"
)

// Class is the retry-relevant category of an error
type Class int

const (
	// ClassPermanent errors are never retried
	ClassPermanent Class = iota
	// ClassTransient errors are retried after a backoff delay
	ClassTransient
	// ClassMalformed errors are retried immediately
	ClassMalformed
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassMalformed:
		return "malformed"
	default:
		return "permanent"
	}
}

// Classify maps an error onto a retry class.
//
// Caller misuse, store failures, zero vectors and cancellation are
// permanent. Malformed output wins over transient when both are present.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, types.ErrInvalidParameter),
		errors.Is(err, types.ErrStoreFailure),
		errors.Is(err, types.ErrZeroVector),
		errors.Is(err, types.ErrConfiguration),
		errors.Is(err, context.Canceled):
		return ClassPermanent
	case errors.Is(err, types.ErrMalformedOutput):
		return ClassMalformed
	case errors.Is(err, types.ErrTransient),
		errors.Is(err, types.ErrEmbeddingFailure),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	if IsRateLimit(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsRateLimit reports whether err carries an explicit rate-limit signal
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

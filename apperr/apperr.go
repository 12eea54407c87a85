// Package apperr holds the error taxonomy shared by the engine, the chat pipeline and
// the HTTP layer. Callers wrap a sentinel with fmt.Errorf("...: %w", ...) and the
// boundary that reports to a user classifies it with Classify.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidInput marks out-of-range or non-positive user-supplied values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState marks an operation that is not valid in the current machine state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConnectionTimeout is returned by a chat connect that saw no channel confirmation in time.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrConnection marks a protocol-level failure (dial, handshake, write).
	ErrConnection = errors.New("connection error")
	// ErrStorage marks a read or write failure on the persistent store.
	ErrStorage = errors.New("storage failure")
	// ErrSyncUnavailable marks an unreachable remote sync target.
	ErrSyncUnavailable = errors.New("sync unavailable")
)

// Class says who an error is for.
type Class int

const (
	// ClassCaller errors are reported to the immediate caller for user-visible feedback.
	ClassCaller Class = iota
	// ClassAbsorbed errors are logged and swallowed at their own boundary.
	ClassAbsorbed
	// ClassUnknown errors are not part of the taxonomy.
	ClassUnknown
)

// String returns a human-readable name for the class.
func (c Class) String() string {
	switch c {
	case ClassCaller:
		return "caller"
	case ClassAbsorbed:
		return "absorbed"
	default:
		return "unknown"
	}
}

// Classify places err in the taxonomy.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, ErrConnection):
		return ClassCaller
	case errors.Is(err, ErrStorage), errors.Is(err, ErrSyncUnavailable):
		return ClassAbsorbed
	default:
		return ClassUnknown
	}
}

// HTTPStatus maps err to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrConnectionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, ErrSyncUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

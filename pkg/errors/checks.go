package errors

import (
	"errors"
	"net/http"
)

// AsError attempts to convert an error to an *Error, traversing the chain
// with errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("command failed", "kind", e.Kind, "code", e.Code)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetKind returns the kind of err, or an empty kind if err is nil or not
// an *Error.
func GetKind(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err carries kind.
//
// Example:
//
//	if errors.HasKind(err, errors.KindInactiveAccessToken) {
//	    // ask the client for a fresh token
//	}
func HasKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

func inCategory(err error, c Category) bool {
	e, ok := AsError(err)
	return ok && e.Category() == c
}

// IsRequest reports whether err is a request shape error.
func IsRequest(err error) bool {
	return inCategory(err, CategoryRequest)
}

// IsAuthorization reports whether err is an access token authorization
// error.
func IsAuthorization(err error) bool {
	return inCategory(err, CategoryAuthorization)
}

// IsTokenValidation reports whether err is an ID token or hash binding
// failure.
func IsTokenValidation(err error) bool {
	return inCategory(err, CategoryTokenValidation)
}

// IsUpstream reports whether err is an OP or AS dependency failure.
func IsUpstream(err error) bool {
	return inCategory(err, CategoryUpstream)
}

// IsRetryable reports whether the caller may retry after a delay. Only
// upstream failures are retryable.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    // retry with backoff
//	}
func IsRetryable(err error) bool {
	return IsUpstream(err)
}

// IsClientError reports whether err renders with a 4xx status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	s := e.HTTPStatus()
	return s >= http.StatusBadRequest && s < http.StatusInternalServerError
}

// IsServerError reports whether err renders with a 5xx status.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	return ok && e.HTTPStatus() >= http.StatusInternalServerError
}

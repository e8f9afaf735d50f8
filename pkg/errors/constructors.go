package errors

import (
	"errors"
	"fmt"
)

// New raises kind. Kinds outside the table are reported as
// INTERNAL_ERROR_UNKNOWN.
//
// Example:
//
//	return errors.New(errors.KindBadRequestNoOxdID)
func New(kind Kind) *Error {
	entry := entryFor(kind)
	return &Error{
		Kind:    entry.Kind,
		Code:    entry.Code,
		Message: entry.Message,
	}
}

// Newf raises kind with internal context. The formatted reason shows up in
// logs and Error() but not on the wire.
//
// Example:
//
//	err := errors.Newf(errors.KindRestrictedOpHost, "op_host %q", opHost)
func Newf(kind Kind, format string, args ...any) *Error {
	e := New(kind)
	e.Reason = fmt.Sprintf(format, args...)
	return e
}

// Wrap raises kind with err as the cause. If err is nil, Wrap returns nil.
//
// Example:
//
//	doc, err := fetch(ctx, url)
//	if err != nil {
//	    return errors.Wrap(err, errors.KindNoConnectDiscoveryResponse)
//	}
func Wrap(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	e := New(kind)
	e.Cause = err
	return e
}

// Wrapf wraps err with kind and a formatted reason. If err is nil, Wrapf
// returns nil.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	e := Newf(kind, format, args...)
	e.Cause = err
	return e
}

// FromError converts any error to an *Error. An *Error anywhere in the
// chain is returned as-is; anything else is wrapped as
// INTERNAL_ERROR_UNKNOWN.
//
// Example:
//
//	oxdErr := errors.FromError(err)
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, KindInternalErrorUnknown)
}

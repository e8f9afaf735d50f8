package errors

import (
	"fmt"
	"maps"
)

// Error is a failure carrying exactly one taxonomy kind. Code, Message and
// the HTTP status always come from the kind's entry, so the wire rendering
// of an Error never depends on where it was raised. Treat values as
// immutable; WithDetail(s) return copies.
type Error struct {
	// Kind is the taxonomy key.
	Kind Kind

	// Code is the short machine code rendered as "status" on the wire.
	Code string

	// Message is the human message rendered as "description" on the wire.
	Message string

	// Reason is optional internal context added by the raising site. It is
	// logged but never rendered to clients.
	Reason string

	// Cause is the wrapped lower-level failure, if any.
	Cause error

	// Details are extra log attributes.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Code)
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap exposes Cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status of the kind's entry.
func (e *Error) HTTPStatus() int {
	return entryFor(e.Kind).HTTPStatus
}

// Category returns the category of the kind's entry.
func (e *Error) Category() Category {
	return entryFor(e.Kind).Category
}

// Entry returns the taxonomy entry of this error.
func (e *Error) Entry() Entry {
	return entryFor(e.Kind)
}

// WithDetails returns a copy of e with details merged over its own.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	c := *e
	c.Details = merged
	return &c
}

// WithDetail is WithDetails for one key.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Format implements fmt.Formatter. %+v includes the message, details and
// the cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Kind: %q, Code: %q, Message: %q", e.Kind, e.Code, e.Message)
			if e.Reason != "" {
				fmt.Fprintf(s, ", Reason: %q", e.Reason)
			}
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Package errors defines the typed error taxonomy of the form pipeline.
// Every failure crossing the async-resource boundary is converted into one
// of these kinds so downstream code can branch on classification instead
// of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind string

const (
	// KindTransport is a network or connectivity failure. Recoverable by
	// retry; never corrupts local state.
	KindTransport Kind = "transport"

	// KindCatalog is a failed category/provider/package listing. Distinct
	// from an empty listing, which is a valid result.
	KindCatalog Kind = "catalog"

	// KindValidationRejected is an explicit upstream rejection of an
	// identifier (e.g. customer not found).
	KindValidationRejected Kind = "validation_rejected"

	// KindFeeQuote is a failed fee computation.
	KindFeeQuote Kind = "fee_quote_failed"

	// KindSubmission is a failed final submit call. Local form state is
	// preserved so the user can retry without re-entering data.
	KindSubmission Kind = "submission_failed"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so errors.Is(err, &Error{Kind: k})
// works as a classification test.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Transport wraps a connectivity failure.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// Catalog wraps a failed listing.
func Catalog(msg string, err error) *Error {
	return &Error{Kind: KindCatalog, Message: msg, Err: err}
}

// ValidationRejected reports an explicit identifier rejection.
func ValidationRejected(msg string) *Error {
	return &Error{Kind: KindValidationRejected, Message: msg}
}

// FeeQuote wraps a failed fee computation.
func FeeQuote(err error) *Error {
	return &Error{Kind: KindFeeQuote, Err: err}
}

// Submission wraps a failed submit call.
func Submission(err error) *Error {
	return &Error{Kind: KindSubmission, Err: err}
}

// KindOf returns the kind of a classified error, or an empty kind for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

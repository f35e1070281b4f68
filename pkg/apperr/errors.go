// Package apperr defines the error taxonomy shared by every subsystem of
// the indexing and search coordination core.
//
// Errors are not distinguished by Go type but by a stable Kind token
// (see spec §7), so callers can branch on errors.Is / Kind() without
// needing to know which package produced the error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, user-facing error classification token.
type Kind string

const (
	KindInvalidArgument   Kind = "InvalidArgument"
	KindUnsupportedFeature Kind = "UnsupportedFeature"
	KindIndexNotFound     Kind = "IndexNotFound"
	KindIndexExists       Kind = "IndexExists"
	KindOperationConflict Kind = "OperationConflict"
	KindNotConverged      Kind = "NotConverged"
	KindStatus            Kind = "Status"
	KindTimeout           Kind = "Timeout"
	KindNetworkError      Kind = "NetworkError"
	KindDocTooLarge       Kind = "DocTooLarge"
	KindMediaDownloadError  Kind = "MediaDownloadError"
	KindMediaExceedsMaxSize Kind = "MediaExceedsMaxSize"
	KindMediaMismatch       Kind = "MediaMismatch"
	KindUnsupportedModality Kind = "UnsupportedModality"
	KindGeneric           Kind = "Generic"

	// store package kinds (§4.1), distinct from the user-facing ones above
	KindInvalidApplicationPackage Kind = "InvalidApplicationPackage"
	KindActivationConflict        Kind = "ActivationConflict"
)

// HTTPStatus returns the conventional HTTP status code associated with a Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidArgument, KindUnsupportedFeature, KindDocTooLarge,
		KindMediaDownloadError, KindMediaExceedsMaxSize, KindMediaMismatch,
		KindUnsupportedModality, KindInvalidApplicationPackage:
		return http.StatusBadRequest
	case KindIndexNotFound:
		return http.StatusNotFound
	case KindIndexExists, KindOperationConflict, KindActivationConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotConverged, KindStatus, KindNetworkError, KindGeneric:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type carried through the core. It wraps an
// optional underlying cause so callers can still use errors.Unwrap/Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to KindGeneric if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

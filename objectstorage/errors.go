package objectstorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/replit/object-storage-go/backend"
)

// Error is a failure of a client operation, classified into one of the
// predefined codes below. Errors returned by the client match the predefined
// values with errors.Is, and expose the underlying cause through Unwrap.
type Error struct {
	// Code identifies the kind of failure (e.g. "ObjectNotFound").
	Code string
	// Message is a human-readable description of the failure.
	Message string
	// Op is the client operation that failed (e.g. "DownloadAsBytes").
	Op string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("objectstorage: %s: %v", strings.TrimSuffix(msg, "."), e.Err)
	}
	return "objectstorage: " + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that errors
// returned by the client match the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// wrap returns a copy of e recording the failing operation and cause.
func (e *Error) wrap(op string, err error) *Error {
	cp := *e
	cp.Op = op
	cp.Err = err
	return &cp
}

// Predefined errors. Compare with errors.Is.
var (
	// ErrBucketNotFound is returned when the bucket configured for the client
	// could not be found.
	ErrBucketNotFound = &Error{
		Code:    "BucketNotFound",
		Message: "The requested bucket could not be found.",
	}

	// ErrDefaultBucket is returned when no bucket was configured and the
	// default bucket could not be resolved.
	ErrDefaultBucket = &Error{
		Code:    "DefaultBucket",
		Message: "The default bucket could not be resolved.",
	}

	// ErrForbidden is returned when access to the requested resource is not
	// allowed.
	ErrForbidden = &Error{
		Code:    "Forbidden",
		Message: "Access to the requested resource is not allowed.",
	}

	// ErrInvalidText is returned by DownloadAsText when the object's contents
	// are not valid UTF-8.
	ErrInvalidText = &Error{
		Code:    "InvalidText",
		Message: "The requested object is not valid UTF-8 text.",
	}

	// ErrObjectNotFound is returned when the requested object could not be
	// found.
	ErrObjectNotFound = &Error{
		Code:    "ObjectNotFound",
		Message: "The requested object could not be found.",
	}

	// ErrTooManyRequests is returned when the backend rate-limits the client.
	ErrTooManyRequests = &Error{
		Code:    "TooManyRequests",
		Message: "Rate limit exceeded.",
	}

	// ErrUnauthorized is returned when the requested operation is not allowed
	// for the client's credentials.
	ErrUnauthorized = &Error{
		Code:    "Unauthorized",
		Message: "The requested operation is not allowed.",
	}
)

// translate maps a backend failure onto the predefined errors. Errors that are
// already classified, and errors without a recognized status, are returned
// unchanged.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	switch backend.StatusCode(err) {
	case http.StatusForbidden:
		return ErrForbidden.wrap(op, err)
	case http.StatusNotFound:
		if backend.IsBucketNotFound(err) {
			return ErrBucketNotFound.wrap(op, err)
		}
		return ErrObjectNotFound.wrap(op, err)
	case http.StatusTooManyRequests:
		return ErrTooManyRequests.wrap(op, err)
	case http.StatusUnauthorized:
		return ErrUnauthorized.wrap(op, err)
	}
	return err
}

// statusLabel returns the metrics status label for an operation result.
func statusLabel(err error) string {
	if err == nil {
		return "OK"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	return "Error"
}

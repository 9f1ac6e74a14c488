package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BucketNotExistMessage is the message every driver attaches to a 404 caused
// by a missing bucket.
const BucketNotExistMessage = "The specified bucket does not exist."

// bucketNotExistMarker is matched instead of the full message because S3
// omits the trailing period.
const bucketNotExistMarker = "The specified bucket does not exist"

// Error is a driver-neutral failure reported by a backend.
type Error struct {
	// StatusCode is the HTTP-style status of the failure (e.g. 404, 403).
	StatusCode int
	// Message is the provider's human-readable description.
	Message string
	// Err is the provider error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend error (%d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the provider error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an *Error with the given status, message and cause.
func NewError(statusCode int, message string, err error) *Error {
	return &Error{StatusCode: statusCode, Message: message, Err: err}
}

// errBucketNotExist reports a missing bucket.
func errBucketNotExist(err error) *Error {
	return &Error{StatusCode: http.StatusNotFound, Message: BucketNotExistMessage, Err: err}
}

// errObjectNotExist reports a missing object.
func errObjectNotExist(bucket, object string, err error) *Error {
	return &Error{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("No such object: %s/%s", bucket, object),
		Err:        err,
	}
}

// errInvalidArgument reports a malformed request, such as an unusable object
// name or glob pattern.
func errInvalidArgument(message string, err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Message: message, Err: err}
}

// StatusCode returns the status carried by err, or 0 if err is not an *Error.
func StatusCode(err error) int {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 for either a bucket or an object.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsBucketNotFound reports whether err is a 404 caused by a missing bucket.
func IsBucketNotFound(err error) bool {
	var bErr *Error
	if !errors.As(err, &bErr) {
		return false
	}
	return bErr.StatusCode == http.StatusNotFound && strings.Contains(bErr.Message, bucketNotExistMarker)
}

package objectstorage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replit/object-storage-go/backend"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		want   *Error
	}{
		{"forbidden", http.StatusForbidden, "denied", ErrForbidden},
		{"bucket not found", http.StatusNotFound, "The specified bucket does not exist.", ErrBucketNotFound},
		{"bucket not found embedded", http.StatusNotFound, "GET /b: The specified bucket does not exist", ErrBucketNotFound},
		{"object not found", http.StatusNotFound, "No such object: b/o", ErrObjectNotFound},
		{"too many requests", http.StatusTooManyRequests, "slow down", ErrTooManyRequests},
		{"unauthorized", http.StatusUnauthorized, "bad token", ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := backend.NewError(tt.status, tt.msg, nil)
			err := translate("Op", fmt.Errorf("wrapped: %w", cause))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, cause)

			var e *Error
			assert.ErrorAs(t, err, &e)
			assert.Equal(t, "Op", e.Op)
			assert.Equal(t, tt.want.Message, e.Message)
		})
	}
}

func TestTranslatePassThrough(t *testing.T) {
	assert.NoError(t, translate("Op", nil))

	plain := errors.New("plain")
	assert.Same(t, plain, translate("Op", plain))

	server := backend.NewError(http.StatusInternalServerError, "backend error", nil)
	assert.Same(t, server, translate("Op", server))

	classified := ErrDefaultBucket.wrap("", plain)
	assert.Same(t, classified, translate("Op", classified))
}

func TestErrorsAreDistinct(t *testing.T) {
	all := []*Error{ErrBucketNotFound, ErrDefaultBucket, ErrForbidden, ErrInvalidText, ErrObjectNotFound, ErrTooManyRequests, ErrUnauthorized}
	for i, a := range all {
		for j, b := range all {
			assert.Equal(t, i == j, errors.Is(a, b), "%s vs %s", a.Code, b.Code)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "objectstorage: Rate limit exceeded.", ErrTooManyRequests.Error())

	err := ErrObjectNotFound.wrap("Copy", errors.New("No such object: b/o"))
	assert.Equal(t, "objectstorage: Copy: The requested object could not be found: No such object: b/o", err.Error())

	// The predefined value is not modified by wrap.
	assert.Empty(t, ErrObjectNotFound.Op)
	assert.Nil(t, ErrObjectNotFound.Err)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "OK", statusLabel(nil))
	assert.Equal(t, "ObjectNotFound", statusLabel(ErrObjectNotFound.wrap("Op", nil)))
	assert.Equal(t, "Canceled", statusLabel(fmt.Errorf("get: %w", context.Canceled)))
	assert.Equal(t, "Error", statusLabel(errors.New("x")))
}

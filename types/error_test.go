package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithStep("frame-problem")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "step frame-problem")
	assert.Contains(t, err.Error(), "root")
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrInvalidShape, "missing goalStatement")
	outer := NewError(ErrStepFailed, "step failed").WithCause(inner)
	wrapped := fmt.Errorf("run failed: %w", outer)

	assert.Equal(t, ErrStepFailed, GetErrorCode(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrStepFailed))
	assert.True(t, IsErrorCode(wrapped, ErrInvalidShape))
	assert.False(t, IsErrorCode(wrapped, ErrRunNotFound))

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, outer, e)
}

func TestHTTPStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{NewError(ErrInvalidShape, "x"), http.StatusBadRequest},
		{NewError(ErrRunNotFound, "x"), http.StatusNotFound},
		{NewError(ErrRunExpired, "x"), http.StatusGone},
		{NewError(ErrToolFailed, "x"), http.StatusBadGateway},
		{NewError(ErrToolFailed, "x").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusOf(tt.err), tt.err.Error())
	}
}

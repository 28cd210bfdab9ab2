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
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "upstream failed")
	assert.Contains(t, err.Error(), "root")
}

func TestError_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"explicit status wins", NewError(ErrUpstreamRejected, "nope").WithHTTPStatus(http.StatusNotFound), http.StatusNotFound},
		{"rate limited", NewError(ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"invalid request", NewError(ErrInvalidRequest, "bad"), http.StatusBadRequest},
		{"upstream error", NewError(ErrUpstreamError, "down"), http.StatusBadGateway},
		{"timeout", NewError(ErrTimeout, "slow"), http.StatusGatewayTimeout},
		{"unknown", NewError("SOMETHING", "?"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Status())
		})
	}
}

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrRateLimited, "rate limit exceeded")
	wrapped := fmt.Errorf("admit: %w", inner)

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.Equal(t, ErrRateLimited, GetErrorCode(wrapped))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

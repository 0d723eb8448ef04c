package pkgerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewInvalidStateTransitionError("FAILED", "PROCESSING"))

	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsCode(err, CodeInvalidStateTransition))
	assert.Equal(t, CodeInvalidStateTransition, GetErrorCode(err))
}

func TestAppErrorFormat(t *testing.T) {
	inner := errors.New("boom")
	err := NewGatewayTransientError(inner)

	assert.Equal(t, "[GATEWAY_TRANSIENT] gateway call failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(NewGatewayDeclinedError("CARD_DECLINED", "declined")))
}

func TestUnknownErrors(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, CodeUnknown, GetErrorCode(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidationError("amount")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewNotFoundError("payment %s", "x")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(NewMaxRetriesExceededError(3)))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(NewRateLimitExceededError("charge")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(NewCircuitOpenError(nil)))
}

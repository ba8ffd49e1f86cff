package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_WrappedSentinelsMatch(t *testing.T) {
	wrapped := fmt.Errorf("login for %q: %w", "alice", ErrInvalidCredentials)
	assert.ErrorIs(t, wrapped, ErrInvalidCredentials)
	assert.NotErrorIs(t, wrapped, ErrExpiredToken)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrInvalidCredentials))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(ErrForbidden))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ErrProviderError))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("wrap: %w", ErrAccountConflict)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("disk on fire")))
}

func TestAsAuthError_Unclassified(t *testing.T) {
	ae := AsAuthError(stderrors.New("disk on fire"))
	assert.Equal(t, "server_error", ae.Code)
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("exchange: %w", ErrProviderError)))
	assert.False(t, IsRetryable(ErrInvalidArtifact))
	assert.False(t, IsRetryable(stderrors.New("nope")))
}

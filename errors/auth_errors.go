package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError is a classified authentication/authorization failure. The boundary
// layer maps it to an HTTP status; the core never retries one internally.
type AuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
	Retryable   bool   `json:"-"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is makes two AuthErrors with the same code match under errors.Is, so
// sentinel values below can be used as targets for wrapped errors.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Error taxonomy. One sentinel per failure class; wrap with %w to add detail.
var (
	ErrInvalidCredentials = &AuthError{Code: "invalid_credentials", Description: "invalid identifier or secret", Status: http.StatusUnauthorized}
	ErrMalformedToken     = &AuthError{Code: "malformed_token", Description: "token is not structurally valid", Status: http.StatusUnauthorized}
	ErrSignatureInvalid   = &AuthError{Code: "signature_invalid", Description: "token signature verification failed", Status: http.StatusUnauthorized}
	ErrExpiredToken       = &AuthError{Code: "expired_token", Description: "token has expired", Status: http.StatusUnauthorized}
	ErrTypeMismatch       = &AuthError{Code: "type_mismatch", Description: "token type not accepted here", Status: http.StatusUnauthorized}
	ErrStateMismatch      = &AuthError{Code: "state_mismatch", Description: "state value missing, expired or not issued for this session", Status: http.StatusBadRequest}
	ErrProviderError      = &AuthError{Code: "provider_error", Description: "identity provider unavailable", Status: http.StatusBadGateway, Retryable: true}
	ErrInvalidArtifact    = &AuthError{Code: "invalid_artifact", Description: "authorization artifact rejected by provider", Status: http.StatusBadRequest}
	ErrUnauthenticated    = &AuthError{Code: "unauthenticated", Description: "no valid principal", Status: http.StatusUnauthorized}
	ErrForbidden          = &AuthError{Code: "forbidden", Description: "principal lacks a required role", Status: http.StatusForbidden}
	ErrTokenReused        = &AuthError{Code: "token_reused", Description: "refresh token already consumed", Status: http.StatusUnauthorized}
	ErrTokenRevoked       = &AuthError{Code: "token_revoked", Description: "refresh token revoked or unknown", Status: http.StatusUnauthorized}
	ErrAccountConflict    = &AuthError{Code: "account_conflict", Description: "a local account with this email already exists", Status: http.StatusConflict}
)

// HTTPStatus returns the status the boundary should answer with. Unclassified
// errors are treated as internal faults (fail closed).
func HTTPStatus(err error) int {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// AsAuthError extracts the AuthError from err, or wraps err as an internal
// server fault when it carries no classification.
func AsAuthError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &AuthError{Code: "server_error", Description: "internal error", Status: http.StatusInternalServerError}
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Retryable
}

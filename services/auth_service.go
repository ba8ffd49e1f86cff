package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/internal/auth"
	"github.com/portfoliolab/authcore/internal/metrics"
	"github.com/portfoliolab/authcore/session"
	"github.com/portfoliolab/authcore/token"
)

// TokenPair is what every successful authentication yields: a stateless
// access token and a tracked, revocable refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"` // access token lifetime, seconds
}

// AuthService orchestrates local authentication: registration, login,
// refresh rotation and logout.
type AuthService struct {
	accounts   domain.AccountRepository
	verifier   *auth.CredentialVerifier
	hasher     auth.PasswordHasher
	codec      *token.Codec
	sessions   session.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	accounts domain.AccountRepository,
	verifier *auth.CredentialVerifier,
	hasher auth.PasswordHasher,
	codec *token.Codec,
	sessions session.Store,
	accessTTL, refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		accounts:   accounts,
		verifier:   verifier,
		hasher:     hasher,
		codec:      codec,
		sessions:   sessions,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Register creates a local account and logs it in. A duplicate email or
// username is rejected before any write.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (*domain.Account, *TokenPair, error) {
	if existing, _ := s.accounts.GetAccountByEmail(ctx, email); existing != nil {
		return nil, nil, fmt.Errorf("%w: email already registered", serrors.ErrAccountConflict)
	}
	if existing, _ := s.accounts.GetAccountByUsername(ctx, username); existing != nil {
		return nil, nil, fmt.Errorf("%w: username already taken", serrors.ErrAccountConflict)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	account := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Roles:        []string{domain.RoleUser},
		Status:       domain.AccountStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}
	metrics.AccountsCreatedTotal.Inc()
	log.Info().Str("accountID", account.ID).Str("username", username).Msg("account registered")

	pair, err := s.IssuePair(ctx, account, uuid.NewString())
	if err != nil {
		return nil, nil, err
	}
	return account, pair, nil
}

// Login verifies local credentials and issues a fresh token pair under a new
// refresh-token family.
func (s *AuthService) Login(ctx context.Context, identifier, secret string) (*TokenPair, error) {
	account, err := s.verifier.Verify(ctx, identifier, secret)
	if err != nil {
		metrics.LoginFailureTotal.Inc()
		return nil, err
	}

	pair, err := s.IssuePair(ctx, account, uuid.NewString())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	account.LastLoginAt = &now
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		log.Warn().Err(err).Str("accountID", account.ID).Msg("failed to update last login time")
	}

	metrics.LoginSuccessTotal.Inc()
	log.Info().Str("accountID", account.ID).Msg("login successful")
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is atomically marked
// consumed and a brand-new pair is issued in the same family. Reuse of an
// already-rotated token revokes every outstanding refresh token of the
// account.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Validate(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, err
	}

	rec, err := s.sessions.Consume(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, serrors.ErrTokenReused) {
			metrics.TokenReuseDetectedTotal.Inc()
			log.Warn().Str("tokenID", claims.ID).Str("accountID", claims.Subject).
				Msg("refresh token reuse detected, account sessions revoked")
		}
		return nil, err
	}
	if rec.AccountID != claims.Subject {
		// Ledger and claims disagree; do not honor either side.
		return nil, serrors.ErrTokenRevoked
	}

	account, err := s.accounts.GetAccountByID(ctx, rec.AccountID)
	if err != nil || account == nil {
		return nil, serrors.ErrUnauthenticated
	}
	if account.IsDisabled() {
		return nil, serrors.ErrUnauthenticated
	}

	pair, err := s.IssuePair(ctx, account, rec.FamilyID)
	if err != nil {
		return nil, err
	}
	metrics.TokensRefreshedTotal.Inc()
	log.Debug().Str("accountID", account.ID).Str("family", rec.FamilyID).Msg("refresh token rotated")
	return pair, nil
}

// Logout revokes the presented refresh token's whole family. It is
// idempotent: unknown, malformed and already-revoked tokens succeed too.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Validate(refreshToken, token.TypeRefresh)
	if err != nil {
		log.Debug().Err(err).Msg("logout with unusable refresh token")
		return nil
	}

	rec, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil
	}
	if err := s.sessions.RevokeFamily(ctx, rec.FamilyID); err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	log.Info().Str("accountID", rec.AccountID).Str("family", rec.FamilyID).Msg("logged out")
	return nil
}

// ChangePassword swaps the stored hash after verifying the current secret,
// then revokes every outstanding refresh token of the account.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, current, next string) error {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil || account == nil {
		return serrors.ErrUnauthenticated
	}
	if err := s.hasher.Verify(account.PasswordHash, current); err != nil {
		return serrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	account.PasswordHash = hash
	account.UpdatedAt = time.Now()
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if err := s.sessions.RevokeAll(ctx, accountID); err != nil {
		return fmt.Errorf("failed to revoke sessions after password change: %w", err)
	}
	log.Info().Str("accountID", accountID).Msg("password changed, sessions revoked")
	return nil
}

// IssuePair issues an access/refresh pair for the account and records the
// refresh token in the ledger under the given family. Any signing or ledger
// fault fails the whole operation; a half-issued pair is never returned.
func (s *AuthService) IssuePair(ctx context.Context, account *domain.Account, familyID string) (*TokenPair, error) {
	access, _, err := s.codec.Issue(account.ID, account.Roles, token.TypeAccess, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.codec.Issue(account.ID, nil, token.TypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	rec := &domain.RefreshTokenRecord{
		ID:        refreshClaims.ID,
		AccountID: account.ID,
		FamilyID:  familyID,
		IssuedAt:  refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	if err := s.sessions.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record refresh token: %w", err)
	}

	metrics.TokensIssuedTotal.Inc()
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

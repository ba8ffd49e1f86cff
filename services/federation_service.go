package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/internal/federation"
	"github.com/portfoliolab/authcore/internal/metrics"
)

// CallbackOutcome says how a federated callback resolved to an account.
type CallbackOutcome string

const (
	OutcomeLinked  CallbackOutcome = "linked"  // existing mapping reused, or linked to a matching local account
	OutcomeCreated CallbackOutcome = "created" // new account created for this identity
)

// FederationService reconciles federated identities with local accounts:
// reuse an existing (provider, subject) mapping, optionally link by verified
// email, or create a fresh account.
type FederationService struct {
	adapter    *federation.Adapter
	accounts   domain.AccountRepository
	identities domain.ExternalIdentityRepository
	auth       *AuthService

	// linkByEmail enables merging a federated login into an existing local
	// account when the provider-verified email matches. Off by default:
	// automatic merging crosses trust boundaries with different assurance
	// levels.
	linkByEmail bool
}

// NewFederationService creates a new FederationService.
func NewFederationService(
	adapter *federation.Adapter,
	accounts domain.AccountRepository,
	identities domain.ExternalIdentityRepository,
	authService *AuthService,
	linkByEmail bool,
) *FederationService {
	return &FederationService{
		adapter:     adapter,
		accounts:    accounts,
		identities:  identities,
		auth:        authService,
		linkByEmail: linkByEmail,
	}
}

// Begin starts a federated login attempt and returns the provider redirect
// URL plus the issued state value.
func (s *FederationService) Begin(providerName string) (authURL, state string, err error) {
	return s.adapter.Begin(providerName)
}

// Callback completes a federated login: state check, code exchange, claim
// normalization, then account resolution. No side effects persist on any
// failure path.
func (s *FederationService) Callback(ctx context.Context, providerName, code, state string) (*TokenPair, CallbackOutcome, error) {
	claims, err := s.adapter.Callback(ctx, providerName, code, state)
	if err != nil {
		metrics.FederatedLoginsTotal.WithLabelValues(providerName, "rejected").Inc()
		return nil, "", err
	}

	account, outcome, err := s.resolveAccount(ctx, claims)
	if err != nil {
		metrics.FederatedLoginsTotal.WithLabelValues(providerName, "rejected").Inc()
		return nil, "", err
	}
	if account.IsDisabled() {
		metrics.FederatedLoginsTotal.WithLabelValues(providerName, "rejected").Inc()
		return nil, "", serrors.ErrUnauthenticated
	}

	pair, err := s.auth.IssuePair(ctx, account, uuid.NewString())
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	account.LastLoginAt = &now
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		log.Warn().Err(err).Str("accountID", account.ID).Msg("failed to update last login time")
	}

	metrics.FederatedLoginsTotal.WithLabelValues(providerName, string(outcome)).Inc()
	log.Info().Str("accountID", account.ID).Str("provider", providerName).
		Str("outcome", string(outcome)).Msg("federated login")
	return pair, outcome, nil
}

// resolveAccount maps normalized claims to a local account.
func (s *FederationService) resolveAccount(ctx context.Context, claims *federation.NormalizedClaims) (*domain.Account, CallbackOutcome, error) {
	// First successful login created the mapping; later logins reuse it.
	identity, err := s.identities.GetByProviderUserID(ctx, claims.Provider, claims.SubjectID)
	if err == nil && identity != nil {
		account, err := s.accounts.GetAccountByID(ctx, identity.AccountID)
		if err != nil || account == nil {
			return nil, "", fmt.Errorf("account %s for federated identity missing: %w", identity.AccountID, serrors.ErrUnauthenticated)
		}
		return account, OutcomeLinked, nil
	}

	// No mapping yet. A local account with the same verified email is either
	// linked (explicit policy) or reported as a conflict, never silently
	// merged.
	if claims.Email != "" {
		existing, _ := s.accounts.GetAccountByEmail(ctx, claims.Email)
		if existing != nil {
			if !s.linkByEmail || !claims.EmailVerified {
				return nil, "", fmt.Errorf("%w: sign in locally and link %s from your profile", serrors.ErrAccountConflict, claims.Provider)
			}
			if err := s.createIdentity(ctx, existing.ID, claims); err != nil {
				return nil, "", err
			}
			log.Info().Str("accountID", existing.ID).Str("provider", claims.Provider).
				Msg("federated identity linked to existing account by verified email")
			return existing, OutcomeLinked, nil
		}
	}

	// Fresh identity: create the account and the mapping.
	now := time.Now()
	account := &domain.Account{
		ID:        uuid.NewString(),
		Email:     claims.Email,
		Username:  usernameFromClaims(claims),
		Roles:     []string{domain.RoleUser},
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, "", fmt.Errorf("failed to create account for federated identity: %w", err)
	}
	metrics.AccountsCreatedTotal.Inc()

	if err := s.createIdentity(ctx, account.ID, claims); err != nil {
		// A concurrent callback may have won the race on the same
		// (provider, subject) pair; fall back to its mapping.
		if identity, lookupErr := s.identities.GetByProviderUserID(ctx, claims.Provider, claims.SubjectID); lookupErr == nil && identity != nil {
			winner, accErr := s.accounts.GetAccountByID(ctx, identity.AccountID)
			if accErr == nil && winner != nil {
				return winner, OutcomeLinked, nil
			}
		}
		return nil, "", err
	}
	return account, OutcomeCreated, nil
}

func (s *FederationService) createIdentity(ctx context.Context, accountID string, claims *federation.NormalizedClaims) error {
	identity := &domain.ExternalIdentity{
		AccountID:      accountID,
		Provider:       claims.Provider,
		ProviderUserID: claims.SubjectID,
		Email:          claims.Email,
		DisplayName:    claims.DisplayName,
		CreatedAt:      time.Now(),
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return fmt.Errorf("failed to create federated identity mapping: %w", err)
	}
	return nil
}

func usernameFromClaims(claims *federation.NormalizedClaims) string {
	if claims.Email != "" {
		return claims.Email
	}
	return strings.ToLower(claims.Provider) + ":" + claims.SubjectID
}

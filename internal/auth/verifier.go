package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

// dummyHash is a bcrypt hash of a random string, compared against when the
// identifier resolves to no account so lookup misses cost a hash check too.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CredentialVerifier validates local identifier/secret pairs against stored
// hashes. It exposes failures uniformly so a throttle layered above can count
// them, and never logs the presented secret.
type CredentialVerifier struct {
	accounts domain.AccountRepository
	hasher   PasswordHasher
}

// NewCredentialVerifier creates a verifier over the given account repository.
func NewCredentialVerifier(accounts domain.AccountRepository, hasher PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{accounts: accounts, hasher: hasher}
}

// Verify resolves the identifier (username, falling back to email) and checks
// the presented secret. Absent account, disabled account, a purely federated
// account and a hash mismatch all yield the same InvalidCredentials error.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, secret string) (*domain.Account, error) {
	account, err := v.accounts.GetAccountByUsername(ctx, identifier)
	if err != nil || account == nil {
		account, err = v.accounts.GetAccountByEmail(ctx, identifier)
	}
	if err != nil || account == nil {
		v.hasher.Verify(dummyHash, secret) //nolint:errcheck // burn a comparison on the miss path
		log.Debug().Str("identifier", identifier).Msg("login: account not found")
		return nil, serrors.ErrInvalidCredentials
	}

	if account.IsDisabled() {
		log.Warn().Str("accountID", account.ID).Msg("login: account disabled")
		return nil, serrors.ErrInvalidCredentials
	}
	if account.PasswordHash == "" {
		// Federated-only account, no local credential to check.
		log.Debug().Str("accountID", account.ID).Msg("login: no local credential")
		return nil, serrors.ErrInvalidCredentials
	}

	if err := v.hasher.Verify(account.PasswordHash, secret); err != nil {
		log.Debug().Str("accountID", account.ID).Msg("login: secret mismatch")
		return nil, serrors.ErrInvalidCredentials
	}

	return account, nil
}

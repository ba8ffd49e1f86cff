// Package session tracks issued refresh tokens and their revocation state.
// It is the only part of the core with mutable shared state: every
// implementation must make Record and subsequent IsRevoked checks
// linearizable per token id, and Consume an atomic check-and-set.
package session

import (
	"context"

	"github.com/portfoliolab/authcore/domain"
)

// Store is the refresh-token ledger.
//
// Consume marks a token consumed exactly once. Presenting an already-consumed
// token is treated as a theft signal: the store revokes every refresh token
// belonging to the owning account and returns errors.ErrTokenReused. Unknown,
// revoked or expired tokens yield errors.ErrTokenRevoked.
type Store interface {
	Record(ctx context.Context, rec *domain.RefreshTokenRecord) error
	Get(ctx context.Context, id string) (*domain.RefreshTokenRecord, error)
	IsRevoked(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, id string) (*domain.RefreshTokenRecord, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAll(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context) error
}

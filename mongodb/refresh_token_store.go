package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
	"github.com/portfoliolab/authcore/session"
)

// RefreshTokenStore implements session.Store on MongoDB. Consume relies on a
// single findOneAndUpdate so concurrent rotations of the same token resolve
// to exactly one winner regardless of which replica handled the request.
type RefreshTokenStore struct {
	tokens *mongo.Collection
}

// NewRefreshTokenStore creates a new RefreshTokenStore.
func NewRefreshTokenStore(ctx context.Context, db *mongo.Database) (session.Store, error) {
	store := &RefreshTokenStore{
		tokens: db.Collection(RefreshTokensCollection),
	}
	if err := store.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create refresh token indexes")
	}
	return store, nil
}

func (s *RefreshTokenStore) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "family_id", Value: 1}},
		},
		{
			// Expired ledger entries are reaped by MongoDB itself.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := s.tokens.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for refresh tokens collection: %w", err)
	}
	return nil
}

// Record inserts a ledger entry for a freshly issued refresh token.
func (s *RefreshTokenStore) Record(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	_, err := s.tokens.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record refresh token: %w", err)
	}
	return nil
}

// Get fetches a ledger entry by token id. Unknown ids yield ErrTokenRevoked,
// same as the memory and redis stores.
func (s *RefreshTokenStore) Get(ctx context.Context, id string) (*domain.RefreshTokenRecord, error) {
	var rec domain.RefreshTokenRecord
	if err := s.tokens.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrTokenRevoked
		}
		return nil, fmt.Errorf("refresh token lookup: %w", err)
	}
	return &rec, nil
}

// IsRevoked reports whether the token is revoked. Unknown tokens count as
// revoked.
func (s *RefreshTokenStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, serrors.ErrTokenRevoked) {
			return true, nil
		}
		return false, err
	}
	return rec.Revoked, nil
}

// Consume atomically marks a live token consumed. A token already consumed
// is a theft signal: every token of the owning account is revoked and
// ErrTokenReused returned.
func (s *RefreshTokenStore) Consume(ctx context.Context, id string) (*domain.RefreshTokenRecord, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":        id,
		"consumed":   false,
		"revoked":    false,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"consumed": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec domain.RefreshTokenRecord
	err := s.tokens.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	// The CAS missed. Distinguish reuse from plain dead tokens.
	stale, lookupErr := s.Get(ctx, id)
	if lookupErr != nil {
		if errors.Is(lookupErr, serrors.ErrTokenRevoked) {
			return nil, serrors.ErrTokenRevoked
		}
		return nil, lookupErr
	}
	if stale.Consumed && !stale.Revoked {
		log.Warn().Str("tokenID", id).Str("accountID", stale.AccountID).
			Msg("refresh token reuse detected, revoking account sessions")
		if revokeErr := s.RevokeAll(ctx, stale.AccountID); revokeErr != nil {
			return nil, revokeErr
		}
		return stale, serrors.ErrTokenReused
	}
	return nil, serrors.ErrTokenRevoked
}

// Revoke marks a single token revoked.
func (s *RefreshTokenStore) Revoke(ctx context.Context, id string) error {
	return s.revokeMatching(ctx, bson.M{"_id": id})
}

// RevokeFamily revokes every token descended from one login.
func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	return s.revokeMatching(ctx, bson.M{"family_id": familyID})
}

// RevokeAll revokes every refresh token of an account.
func (s *RefreshTokenStore) RevokeAll(ctx context.Context, accountID string) error {
	return s.revokeMatching(ctx, bson.M{"account_id": accountID})
}

func (s *RefreshTokenStore) revokeMatching(ctx context.Context, filter bson.M) error {
	update := bson.M{"$set": bson.M{
		"revoked":    true,
		"revoked_at": time.Now().UTC(),
	}}
	if _, err := s.tokens.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes expired ledger entries. The TTL index does this on
// its own; this gives operators a way to force a sweep.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context) error {
	_, err := s.tokens.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return nil
}

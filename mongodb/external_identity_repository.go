package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

// ExternalIdentityRepository implements domain.ExternalIdentityRepository.
type ExternalIdentityRepository struct {
	identities *mongo.Collection
}

// NewExternalIdentityRepository creates a new ExternalIdentityRepository.
func NewExternalIdentityRepository(ctx context.Context, db *mongo.Database) (domain.ExternalIdentityRepository, error) {
	repo := &ExternalIdentityRepository{
		identities: db.Collection(ExternalIdentitiesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create external identity indexes")
	}
	return repo, nil
}

func (r *ExternalIdentityRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One external identity maps to at most one local account.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}},
		},
	}

	_, err := r.identities.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for external identities collection: %w", err)
	}
	return nil
}

// Create inserts an identity mapping. The unique index turns a concurrent
// duplicate insert into an account conflict.
func (r *ExternalIdentityRepository) Create(ctx context.Context, identity *domain.ExternalIdentity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	_, err := r.identities.InsertOne(ctx, identity)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: identity already linked", serrors.ErrAccountConflict)
		}
		return fmt.Errorf("failed to insert external identity: %w", err)
	}
	return nil
}

// GetByProviderUserID fetches the mapping for a provider subject.
func (r *ExternalIdentityRepository) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.ExternalIdentity, error) {
	var identity domain.ExternalIdentity
	err := r.identities.FindOne(ctx, bson.M{
		"provider":         provider,
		"provider_user_id": providerUserID,
	}).Decode(&identity)
	if err != nil {
		return nil, fmt.Errorf("external identity lookup: %w", err)
	}
	return &identity, nil
}

// ListByAccountID returns every identity linked to an account.
func (r *ExternalIdentityRepository) ListByAccountID(ctx context.Context, accountID string) ([]*domain.ExternalIdentity, error) {
	cursor, err := r.identities.Find(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to list external identities: %w", err)
	}
	defer cursor.Close(ctx)

	var identities []*domain.ExternalIdentity
	if err := cursor.All(ctx, &identities); err != nil {
		return nil, fmt.Errorf("failed to decode external identities: %w", err)
	}
	return identities, nil
}

// Delete removes an identity mapping by id.
func (r *ExternalIdentityRepository) Delete(ctx context.Context, id string) error {
	res, err := r.identities.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete external identity %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("external identity %s not found: %w", id, mongo.ErrNoDocuments)
	}
	return nil
}

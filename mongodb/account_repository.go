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

// AccountRepository implements domain.AccountRepository.
type AccountRepository struct {
	accounts *mongo.Collection
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(ctx context.Context, db *mongo.Database) (domain.AccountRepository, error) {
	repo := &AccountRepository{
		accounts: db.Collection(AccountsCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		// Index creation fails on pre-existing indexes with conflicting
		// options; surface a warning and let startup continue.
		log.Warn().Err(err).Msg("Failed to create account indexes")
	}
	return repo, nil
}

func (r *AccountRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// Case-insensitive unique email.
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	}

	_, err := r.accounts.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for accounts collection: %w", err)
	}
	return nil
}

// CreateAccount inserts a new account.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.UpdatedAt = time.Now().UTC()
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}

	_, err := r.accounts.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email or username already in use", serrors.ErrAccountConflict)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// GetAccountByID fetches an account by its id.
func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetAccountByEmail fetches an account by email, case-insensitively.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	var account domain.Account
	err := r.accounts.FindOne(ctx, bson.M{"email": email}, opts).Decode(&account)
	if err != nil {
		return nil, fmt.Errorf("account by email: %w", err)
	}
	return &account, nil
}

// GetAccountByUsername fetches an account by username, case-insensitively.
func (r *AccountRepository) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	var account domain.Account
	err := r.accounts.FindOne(ctx, bson.M{"username": username}, opts).Decode(&account)
	if err != nil {
		return nil, fmt.Errorf("account by username: %w", err)
	}
	return &account, nil
}

// UpdateAccount replaces the stored account document.
func (r *AccountRepository) UpdateAccount(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()

	res, err := r.accounts.ReplaceOne(ctx, bson.M{"_id": account.ID}, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email or username already in use", serrors.ErrAccountConflict)
		}
		return fmt.Errorf("failed to update account %s: %w", account.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("account %s not found: %w", account.ID, mongo.ErrNoDocuments)
	}
	return nil
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var account domain.Account
	if err := r.accounts.FindOne(ctx, filter).Decode(&account); err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	return &account, nil
}

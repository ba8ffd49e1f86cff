package domain

import "context"

// AccountRepository defines the account lookups and mutations the auth core
// depends on. Schema design belongs to the storage layer.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	UpdateAccount(ctx context.Context, account *Account) error
}

// ExternalIdentityRepository tracks (provider, subject) → account mappings.
type ExternalIdentityRepository interface {
	Create(ctx context.Context, identity *ExternalIdentity) error
	GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*ExternalIdentity, error)
	ListByAccountID(ctx context.Context, accountID string) ([]*ExternalIdentity, error)
	Delete(ctx context.Context, id string) error
}

package domain

import "time"

// ExternalIdentity links a local account to an identity at an external
// provider. A (provider, provider_user_id) pair maps to at most one account.
type ExternalIdentity struct {
	ID             string    `bson:"_id,omitempty" json:"id,omitempty"`
	AccountID      string    `bson:"account_id" json:"account_id"`
	Provider       string    `bson:"provider" json:"provider"`                 // e.g. "google", "github"
	ProviderUserID string    `bson:"provider_user_id" json:"provider_user_id"` // subject id at the provider
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName    string    `bson:"display_name,omitempty" json:"display_name,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

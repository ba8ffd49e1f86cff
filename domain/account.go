package domain

import "time"

// AccountStatus defines the possible statuses of an account.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusDisabled AccountStatus = "DISABLED"
)

// Account represents a first-party identity. It is created on local
// registration or on the first federated login, and soft-disabled rather than
// deleted.
type Account struct {
	ID           string        `bson:"_id,omitempty" json:"id"`
	Email        string        `bson:"email" json:"email"`
	Username     string        `bson:"username" json:"username"`
	PasswordHash string        `bson:"password_hash,omitempty" json:"-"` // empty for purely federated accounts
	Roles        []string      `bson:"roles" json:"roles"`
	Status       AccountStatus `bson:"status" json:"status"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time    `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}

// IsDisabled reports whether the account has been soft-disabled.
func (a *Account) IsDisabled() bool {
	return a.Status == AccountStatusDisabled
}

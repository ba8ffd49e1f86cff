package domain

import "time"

// RefreshTokenRecord is the ledger entry for an issued refresh token.
// Access tokens are stateless and never recorded; refresh tokens are tracked
// so they can be consumed exactly once and revoked.
//
// FamilyID links every token descended from one login, so a theft signal can
// invalidate the whole chain at once.
type RefreshTokenRecord struct {
	ID        string    `bson:"_id" json:"id"` // JTI of the refresh token
	AccountID string    `bson:"account_id" json:"account_id"`
	FamilyID  string    `bson:"family_id" json:"family_id"`
	IssuedAt  time.Time `bson:"issued_at" json:"issued_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	Consumed  bool      `bson:"consumed" json:"consumed"` // set on rotation, exactly once
	Revoked   bool      `bson:"revoked" json:"revoked"`
	RevokedAt time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// IsExpired reports whether the record has passed its expiry.
func (r *RefreshTokenRecord) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsUsable reports whether the token may still be exchanged for a new pair.
func (r *RefreshTokenRecord) IsUsable() bool {
	return !r.Revoked && !r.Consumed && !r.IsExpired()
}

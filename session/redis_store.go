package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

// consumeScript is the atomic mark-consumed check-and-set. Return codes:
// 1 consumed now, -1 unknown, -2 revoked, -3 already consumed (reuse).
var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return -2
end
if redis.call("HGET", KEYS[1], "consumed") == "1" then
  return -3
end
redis.call("HSET", KEYS[1], "consumed", "1")
return 1
`)

// RedisStore implements Store on Redis. Records live in hashes with a key
// TTL matching the token expiry; per-account and per-family sets back the
// mass-revocation operations.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new RedisStore. prefix namespaces all keys.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) tokenKey(id string) string {
	return fmt.Sprintf("%s:rt:%s", r.prefix, id)
}

func (r *RedisStore) accountKey(accountID string) string {
	return fmt.Sprintf("%s:acct:%s", r.prefix, accountID)
}

func (r *RedisStore) familyKey(familyID string) string {
	return fmt.Sprintf("%s:fam:%s", r.prefix, familyID)
}

// Record implements Store.Record.
func (r *RedisStore) Record(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	key := r.tokenKey(rec.ID)
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token %s already expired", rec.ID)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"account_id": rec.AccountID,
		"family_id":  rec.FamilyID,
		"issued_at":  rec.IssuedAt.Unix(),
		"expires_at": rec.ExpiresAt.Unix(),
		"consumed":   boolField(rec.Consumed),
		"revoked":    boolField(rec.Revoked),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, r.accountKey(rec.AccountID), rec.ID)
	pipe.Expire(ctx, r.accountKey(rec.AccountID), ttl)
	pipe.SAdd(ctx, r.familyKey(rec.FamilyID), rec.ID)
	pipe.Expire(ctx, r.familyKey(rec.FamilyID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record refresh token: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (r *RedisStore) Get(ctx context.Context, id string) (*domain.RefreshTokenRecord, error) {
	res, err := r.client.HGetAll(ctx, r.tokenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	if len(res) == 0 {
		return nil, serrors.ErrTokenRevoked
	}
	return recordFromHash(id, res)
}

// IsRevoked implements Store.IsRevoked. Unknown tokens count as revoked.
func (r *RedisStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	rec, err := r.Get(ctx, id)
	if errors.Is(err, serrors.ErrTokenRevoked) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Revoked || rec.IsExpired(), nil
}

// Consume implements Store.Consume. The check-and-set runs server-side so
// concurrent rotations on the same id see exactly one winner.
func (r *RedisStore) Consume(ctx context.Context, id string) (*domain.RefreshTokenRecord, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{r.tokenKey(id)}).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	switch res {
	case 1:
		return r.Get(ctx, id)
	case -1, -2:
		return nil, serrors.ErrTokenRevoked
	case -3:
		rec, getErr := r.Get(ctx, id)
		if getErr == nil {
			if revokeErr := r.RevokeAll(ctx, rec.AccountID); revokeErr != nil {
				return nil, fmt.Errorf("reuse detected but account revocation failed: %w", revokeErr)
			}
		}
		return nil, serrors.ErrTokenReused
	default:
		return nil, fmt.Errorf("unexpected consume result %d", res)
	}
}

// Revoke implements Store.Revoke. Unknown tokens are a no-op.
func (r *RedisStore) Revoke(ctx context.Context, id string) error {
	exists, err := r.client.Exists(ctx, r.tokenKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if exists == 0 {
		return nil
	}
	return r.client.HSet(ctx, r.tokenKey(id), "revoked", "1").Err()
}

// RevokeFamily implements Store.RevokeFamily.
func (r *RedisStore) RevokeFamily(ctx context.Context, familyID string) error {
	return r.revokeSet(ctx, r.familyKey(familyID))
}

// RevokeAll implements Store.RevokeAll.
func (r *RedisStore) RevokeAll(ctx context.Context, accountID string) error {
	return r.revokeSet(ctx, r.accountKey(accountID))
}

func (r *RedisStore) revokeSet(ctx context.Context, setKey string) error {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list tokens for revocation: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.HSet(ctx, r.tokenKey(id), "revoked", "1")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke token set: %w", err)
	}
	return nil
}

// DeleteExpired implements Store.DeleteExpired. Redis expires the token keys
// itself; this prunes account and family set members whose token key is gone.
func (r *RedisStore) DeleteExpired(ctx context.Context) error {
	for _, pattern := range []string{
		fmt.Sprintf("%s:acct:*", r.prefix),
		fmt.Sprintf("%s:fam:*", r.prefix),
	} {
		if err := r.pruneSets(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) pruneSets(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan token sets: %w", err)
		}
		for _, setKey := range keys {
			ids, err := r.client.SMembers(ctx, setKey).Result()
			if err != nil {
				continue
			}
			for _, id := range ids {
				exists, err := r.client.Exists(ctx, r.tokenKey(id)).Result()
				if err == nil && exists == 0 {
					r.client.SRem(ctx, setKey, id)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func recordFromHash(id string, res map[string]string) (*domain.RefreshTokenRecord, error) {
	issuedAt, err := strconv.ParseInt(res["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record %s: %w", id, err)
	}
	expiresAt, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token record %s: %w", id, err)
	}
	return &domain.RefreshTokenRecord{
		ID:        id,
		AccountID: res["account_id"],
		FamilyID:  res["family_id"],
		IssuedAt:  time.Unix(issuedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
		Consumed:  res["consumed"] == "1",
		Revoked:   res["revoked"] == "1",
	}, nil
}

var _ Store = (*RedisStore)(nil)

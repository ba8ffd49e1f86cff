package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

// Helper function to setup a RedisStore against a live Redis instance
func setupRedisStoreTest(t *testing.T) (*RedisStore, *redis.Client, func(), error) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := fmt.Sprintf("authcore_test_%d", time.Now().UnixNano())

	ctx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSetup()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, func() {}, fmt.Errorf("redis ping failed for store test: %w", err)
	}

	store := NewRedisStore(client, prefix)

	cleanupFunc := func() {
		mainCtx := context.Background()
		var cursor uint64
		for {
			keys, next, err := client.Scan(mainCtx, cursor, prefix+":*", 100).Result()
			if err != nil {
				t.Logf("Warning: failed to scan test keys during cleanup: %v", err)
				break
			}
			if len(keys) > 0 {
				client.Del(mainCtx, keys...)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		client.Close()
	}
	return store, client, cleanupFunc, nil
}

func newRedisLedgerRecord(accountID, familyID string, ttl time.Duration) *domain.RefreshTokenRecord {
	now := time.Now().UTC()
	return &domain.RefreshTokenRecord{
		ID:        uuid.NewString(),
		AccountID: accountID,
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestRedisStore_ConsumeReuse_Integration(t *testing.T) {
	if os.Getenv("TEST_REDIS_ADDR") == "" && os.Getenv("CI") != "" {
		t.Skip("Skipping Redis integration tests: TEST_REDIS_ADDR not set and CI environment detected.")
	}

	store, _, cleanup, err := setupRedisStoreTest(t)
	require.NoError(t, err, "Failed to setup RedisStore test")
	defer cleanup()

	ctx := context.Background()

	rec := newRedisLedgerRecord("acct-1", uuid.NewString(), time.Hour)
	require.NoError(t, store.Record(ctx, rec))

	sibling := newRedisLedgerRecord("acct-1", uuid.NewString(), time.Hour)
	require.NoError(t, store.Record(ctx, sibling))

	consumed, err := store.Consume(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)

	// Replay is a theft signal and revokes every session of the account.
	_, err = store.Consume(ctx, rec.ID)
	assert.ErrorIs(t, err, serrors.ErrTokenReused)

	revoked, err := store.IsRevoked(ctx, sibling.ID)
	require.NoError(t, err)
	assert.True(t, revoked, "sibling session should be revoked after reuse")

	_, err = store.Get(ctx, "no-such-token")
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
}

func TestRedisStore_DeleteExpiredPrunesAllSets_Integration(t *testing.T) {
	if os.Getenv("TEST_REDIS_ADDR") == "" && os.Getenv("CI") != "" {
		t.Skip("Skipping Redis integration tests: TEST_REDIS_ADDR not set and CI environment detected.")
	}

	store, client, cleanup, err := setupRedisStoreTest(t)
	require.NoError(t, err, "Failed to setup RedisStore test")
	defer cleanup()

	ctx := context.Background()
	familyID := uuid.NewString()

	dead := newRedisLedgerRecord("acct-prune", familyID, time.Hour)
	require.NoError(t, store.Record(ctx, dead))

	live := newRedisLedgerRecord("acct-prune", familyID, time.Hour)
	require.NoError(t, store.Record(ctx, live))

	// Drop the token hash directly, the way Redis key expiry would.
	require.NoError(t, client.Del(ctx, store.tokenKey(dead.ID)).Err())

	require.NoError(t, store.DeleteExpired(ctx))

	acctIDs, err := client.SMembers(ctx, store.accountKey("acct-prune")).Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{live.ID}, acctIDs, "account set should only hold live ids")

	famIDs, err := client.SMembers(ctx, store.familyKey(familyID)).Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{live.ID}, famIDs, "family set should only hold live ids")
}

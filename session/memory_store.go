package session

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/portfoliolab/authcore/domain"
	serrors "github.com/portfoliolab/authcore/errors"
)

// MemoryStore implements Store using ttlcache for expiry-driven cleanup.
// A single mutex covers the cache and the secondary indexes, which makes
// Consume an atomic check-and-set relative to concurrent rotations.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.RefreshTokenRecord]

	byAccount map[string]map[string]struct{}
	byFamily  map[string]map[string]struct{}
}

// NewMemoryStore creates an in-memory refresh-token ledger with automatic
// expiry cleanup.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *domain.RefreshTokenRecord](),
		),
		byAccount: make(map[string]map[string]struct{}),
		byFamily:  make(map[string]map[string]struct{}),
	}
	go s.cache.Start()
	return s
}

// Record implements Store.Record.
func (s *MemoryStore) Record(_ context.Context, rec *domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.cache.Set(rec.ID, &cp, time.Until(rec.ExpiresAt))

	if s.byAccount[rec.AccountID] == nil {
		s.byAccount[rec.AccountID] = make(map[string]struct{})
	}
	s.byAccount[rec.AccountID][rec.ID] = struct{}{}
	if s.byFamily[rec.FamilyID] == nil {
		s.byFamily[rec.FamilyID] = make(map[string]struct{})
	}
	s.byFamily[rec.FamilyID][rec.ID] = struct{}{}
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(id)
	if item == nil {
		return nil, serrors.ErrTokenRevoked
	}
	cp := *item.Value()
	return &cp, nil
}

// IsRevoked implements Store.IsRevoked. Unknown and expired tokens count as
// revoked: a token the ledger no longer vouches for must never be honored.
func (s *MemoryStore) IsRevoked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(id)
	if item == nil {
		return true, nil
	}
	rec := item.Value()
	return rec.Revoked || rec.IsExpired(), nil
}

// Consume implements Store.Consume.
func (s *MemoryStore) Consume(_ context.Context, id string) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(id)
	if item == nil {
		return nil, serrors.ErrTokenRevoked
	}
	rec := item.Value()

	switch {
	case rec.Revoked, rec.IsExpired():
		return nil, serrors.ErrTokenRevoked
	case rec.Consumed:
		// Theft signal: someone replayed a rotated token. Kill everything
		// the account has outstanding.
		s.revokeAllLocked(rec.AccountID)
		return nil, serrors.ErrTokenReused
	}

	rec.Consumed = true
	cp := *rec
	return &cp, nil
}

// Revoke implements Store.Revoke. Revoking an unknown token is a no-op.
func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.cache.Get(id); item != nil {
		rec := item.Value()
		rec.Revoked = true
		rec.RevokedAt = time.Now()
	}
	return nil
}

// RevokeFamily implements Store.RevokeFamily.
func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id := range s.byFamily[familyID] {
		if item := s.cache.Get(id); item != nil {
			rec := item.Value()
			rec.Revoked = true
			rec.RevokedAt = now
		}
	}
	return nil
}

// RevokeAll implements Store.RevokeAll.
func (s *MemoryStore) RevokeAll(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeAllLocked(accountID)
	return nil
}

func (s *MemoryStore) revokeAllLocked(accountID string) {
	now := time.Now()
	for id := range s.byAccount[accountID] {
		if item := s.cache.Get(id); item != nil {
			rec := item.Value()
			rec.Revoked = true
			rec.RevokedAt = now
		}
	}
}

// DeleteExpired implements Store.DeleteExpired. ttlcache already drops
// expired entries on its own; this additionally prunes the secondary indexes,
// which are left stale by background expiry.
func (s *MemoryStore) DeleteExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.DeleteExpired()
	for accountID, ids := range s.byAccount {
		for id := range ids {
			if s.deadLocked(id) {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(s.byAccount, accountID)
		}
	}
	for familyID, ids := range s.byFamily {
		for id := range ids {
			if s.deadLocked(id) {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(s.byFamily, familyID)
		}
	}
	return nil
}

// deadLocked reports whether id is gone from the cache or expired by its own
// record. Records stored with a past expiry get no cache TTL, so the record
// timestamp is checked as well.
func (s *MemoryStore) deadLocked(id string) bool {
	item := s.cache.Get(id)
	if item == nil {
		return true
	}
	if item.Value().IsExpired() {
		s.cache.Delete(id)
		return true
	}
	return false
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ Store = (*MemoryStore)(nil)

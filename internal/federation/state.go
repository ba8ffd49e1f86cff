package federation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultStateTTL bounds how long a login attempt may sit between redirect
// and callback.
const DefaultStateTTL = 10 * time.Minute

// StateStore issues and redeems single-use anti-forgery state values. Each
// value is bound to the provider it was issued for and expires on its own.
type StateStore struct {
	cache *ttlcache.Cache[string, string]
	ttl   time.Duration
}

// NewStateStore creates a state store. A ttl of zero uses DefaultStateTTL.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &StateStore{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		ttl: ttl,
	}
	go s.cache.Start()
	return s
}

// Issue generates an unguessable state value for a login attempt against the
// named provider.
func (s *StateStore) Issue(provider string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	s.cache.Set(state, provider, s.ttl)
	return state, nil
}

// Redeem consumes a state value. It reports true only when the value exists,
// has not expired, and was issued for the same provider; the value is removed
// either way, so a state can never be replayed.
func (s *StateStore) Redeem(provider, state string) bool {
	if state == "" {
		return false
	}
	item := s.cache.Get(state)
	s.cache.Delete(state)
	return item != nil && item.Value() == provider
}

// Close stops the cleanup goroutine.
func (s *StateStore) Close() {
	s.cache.Stop()
}

package token

import (
	"errors"
	"sync"
)

var (
	ErrNoSigningKey = errors.New("no active signing key")
	ErrUnknownKeyID = errors.New("unknown key id")
)

// Keyring holds the server's HMAC signing keys. All keys verify; only the
// active key signs. Rotation keeps the previous key in the verification set so
// tokens signed before the rotation stay valid until their natural expiry.
type Keyring struct {
	mu     sync.RWMutex
	active string
	keys   map[string][]byte
}

// NewKeyring creates a keyring with a single active key.
func NewKeyring(kid string, secret []byte) *Keyring {
	return &Keyring{
		active: kid,
		keys:   map[string][]byte{kid: secret},
	}
}

// Rotate installs a new active signing key. The previous key remains in the
// verification set; call Retire once its overlap window has passed.
func (k *Keyring) Rotate(kid string, secret []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[kid] = secret
	k.active = kid
}

// Retire removes a key from the verification set. Retiring the active key is
// a no-op; rotate first.
func (k *Keyring) Retire(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if kid == k.active {
		return
	}
	delete(k.keys, kid)
}

// SigningKey returns the active key id and secret.
func (k *Keyring) SigningKey() (string, []byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	secret, ok := k.keys[k.active]
	if !ok {
		return "", nil, ErrNoSigningKey
	}
	return k.active, secret, nil
}

// VerificationKey returns the secret for kid, current or retired-but-trusted.
func (k *Keyring) VerificationKey(kid string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	secret, ok := k.keys[kid]
	if !ok {
		return nil, ErrUnknownKeyID
	}
	return secret, nil
}

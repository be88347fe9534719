package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const signingKeyBytes = 32

// signingKey is one HMAC key with its retirement deadline. Retired keys
// are kept for verification until every token they could have signed
// has expired.
type signingKey struct {
	id        string
	secret    []byte
	createdAt time.Time
}

// Keystore holds HMAC signing keys in memory. Keys never touch disk;
// a restart clears the store and invalidates all outstanding tokens.
//
// Thread Safety: all methods are safe for concurrent use.
type Keystore struct {
	mu      sync.RWMutex
	current *signingKey
	keys    map[string]*signingKey

	keyTTL      time.Duration
	retainAfter time.Duration
}

// NewKeystore creates a keystore with an initial generated key.
// keyTTL is how long a key signs before rotation; retainAfter is how
// long a retired key stays available for verification, and should be
// at least the longest session TTL issued under it.
func NewKeystore(keyTTL, retainAfter time.Duration) (*Keystore, error) {
	ks := &Keystore{
		keys:        make(map[string]*signingKey),
		keyTTL:      keyTTL,
		retainAfter: retainAfter,
	}
	if err := ks.rotateLocked(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Current returns the active signing key id and secret, rotating first
// if the active key has aged out.
func (k *Keystore) Current() (string, []byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.current == nil || time.Since(k.current.createdAt) >= k.keyTTL {
		if err := k.rotateLocked(); err != nil {
			return "", nil, err
		}
	}
	return k.current.id, k.current.secret, nil
}

// Lookup returns the secret for a key id, for verification. Returns
// ErrUnknownKey if the id is not held, which is expected after a
// restart.
func (k *Keystore) Lookup(id string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keys[id]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key.secret, nil
}

// rotateLocked generates a fresh key, makes it current, and evicts
// retired keys past their retention window. Callers must hold mu.
func (k *Keystore) rotateLocked() error {
	secret := make([]byte, signingKeyBytes)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}

	key := &signingKey{
		id:        uuid.NewString(),
		secret:    secret,
		createdAt: time.Now(),
	}
	k.current = key
	k.keys[key.id] = key

	cutoff := time.Now().Add(-(k.keyTTL + k.retainAfter))
	for id, old := range k.keys {
		if id != key.id && old.createdAt.Before(cutoff) {
			// Overwrite the secret before dropping the reference so the
			// key material does not linger on the heap.
			for i := range old.secret {
				old.secret[i] = 0
			}
			delete(k.keys, id)
		}
	}
	return nil
}

package pairing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const challengeSecretBytes = 32

// Challenge is one live pairing attempt. The 6-digit code is derived
// from the random secret and is the HMAC key the device uses to prove
// possession; the secret itself never leaves the process.
type Challenge struct {
	ID        string
	DeviceID  string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Attempts  int
}

// Expired reports whether the challenge TTL has passed.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ExpectedResponse computes the HMAC the device must return: SHA-256
// HMAC over the challenge id, keyed with the pairing code.
func (c *Challenge) ExpectedResponse() string {
	mac := hmac.New(sha256.New, []byte(c.Code))
	mac.Write([]byte(c.ID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyResponse checks a submitted response in constant time.
func (c *Challenge) VerifyResponse(response string) bool {
	expected := c.ExpectedResponse()
	return hmac.Equal([]byte(expected), []byte(response))
}

// newChallenge generates a challenge for the device with a fresh random
// secret.
func newChallenge(deviceID string, ttl time.Duration) (*Challenge, error) {
	secret := make([]byte, challengeSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating challenge secret: %w", err)
	}

	now := time.Now()
	return &Challenge{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Code:      deriveCode(secret),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// deriveCode folds the secret into a 6-digit pairing code.
func deriveCode(secret []byte) string {
	sum := sha256.Sum256(secret)
	n := binary.BigEndian.Uint32(sum[:4]) % 1000000
	return fmt.Sprintf("%06d", n)
}

// challengeStore holds live challenges in memory, indexed by challenge
// id and by device id.
//
// Thread Safety: all methods are safe for concurrent use.
type challengeStore struct {
	mu       sync.Mutex
	byID     map[string]*Challenge
	byDevice map[string]*Challenge
}

func newChallengeStore() *challengeStore {
	return &challengeStore{
		byID:     make(map[string]*Challenge),
		byDevice: make(map[string]*Challenge),
	}
}

// put stores a challenge, replacing any previous one for the device.
func (s *challengeStore) put(c *Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byDevice[c.DeviceID]; ok {
		delete(s.byID, old.ID)
	}
	s.byID[c.ID] = c
	s.byDevice[c.DeviceID] = c
}

// get returns the challenge by id.
func (s *challengeStore) get(id string) (*Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return c, ok
}

// forDevice returns the device's live, unexpired challenge if any.
// Expired leftovers are dropped on the way.
func (s *challengeStore) forDevice(deviceID string, now time.Time) (*Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	if c.Expired(now) {
		delete(s.byID, c.ID)
		delete(s.byDevice, deviceID)
		return nil, false
	}
	return c, true
}

// recordFailure increments the challenge's attempt counter and returns
// the new count. Returns 0 if the challenge no longer exists.
func (s *challengeStore) recordFailure(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return 0
	}
	c.Attempts++
	return c.Attempts
}

// remove destroys a challenge.
func (s *challengeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		delete(s.byDevice, c.DeviceID)
		delete(s.byID, id)
	}
}

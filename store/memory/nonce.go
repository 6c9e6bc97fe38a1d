package memory

import (
	"context"
	"sync"
	"time"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// NonceStore is an in-memory implementation of liquidstake.NonceStore.
// It remembers each nonce until its expiration time.
// Access is protected by sync.Mutex for thread safety.
type NonceStore struct {
	nonces map[string]time.Time
	now    func() time.Time
	mu     sync.Mutex
}

// NewNonceStore creates a new in-memory nonce store.
func NewNonceStore() *NonceStore {
	return &NonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Use records nonce as spent until expiresAt and reports whether it was fresh.
// Nonces that are already expired are rejected.
// Performs lazy cleanup of expired nonces during operation.
func (s *NonceStore) Use(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Lazy cleanup: remove expired nonces
	now := s.now()
	for key, exp := range s.nonces {
		if now.After(exp) {
			delete(s.nonces, key)
		}
	}

	if nonce == "" || now.After(expiresAt) {
		return false, nil
	}
	if _, seen := s.nonces[nonce]; seen {
		return false, nil
	}

	s.nonces[nonce] = expiresAt
	return true, nil
}

// Verify that NonceStore implements liquidstake.NonceStore
var _ liquidstake.NonceStore = (*NonceStore)(nil)

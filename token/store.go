package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/lamplight/optin-backend/models"
)

// Default token lifetimes per kind.
const (
	CSRFLifetime    = 8 * time.Hour
	ConfirmLifetime = 24 * time.Hour
)

// keyBytes is the entropy of a token key. 32 bytes = 256 bits.
const keyBytes = 32

// prunePressure is the live-entry count past which Create triggers an
// inline prune, bounding memory if nobody runs the periodic pass.
const prunePressure = 4096

// Store holds single-use tokens in memory for the lifetime of the
// process. Expiry is evaluated lazily on every access; Prune exists to
// reclaim entries nobody will ever look up again.
type Store struct {
	mu     sync.Mutex
	tokens map[string]models.Token
	now    func() time.Time
}

// NewStore returns an empty token store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]models.Token),
		now:    time.Now,
	}
}

func lifetime(kind models.TokenKind) time.Duration {
	if kind == models.KindCSRF {
		return CSRFLifetime
	}
	return ConfirmLifetime
}

func randomKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("could not gather entropy for token: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create issues a fresh token of the given kind carrying payload, and
// returns its key. A key collision is treated as an internal error and
// retried with a new key.
func (s *Store) Create(kind models.TokenKind, payload models.TokenPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key string
	for {
		var err error
		key, err = randomKey()
		if err != nil {
			return "", err
		}
		if _, exists := s.tokens[key]; !exists {
			break
		}
	}
	now := s.now()
	s.tokens[key] = models.Token{
		Key:     key,
		Kind:    kind,
		Payload: payload,
		Created: now,
		Expires: now.Add(lifetime(kind)),
	}
	if len(s.tokens) > prunePressure {
		s.pruneLocked(now)
	}
	return key, nil
}

// Peek returns the token for key without removing it, iff it exists,
// is unexpired, and matches the expected kind.
func (s *Store) Peek(key string, kind models.TokenKind) (models.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[key]
	if !ok || t.Expired(s.now()) || !t.Matches(kind) {
		return models.Token{}, false
	}
	return t, true
}

// Consume atomically removes and returns the token for key, applying
// the same checks as Peek. A second caller, no matter how concurrent,
// observes a miss: this is the at-most-once guarantee the confirmation
// flow depends on.
func (s *Store) Consume(key string, kind models.TokenKind) (models.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[key]
	if !ok || t.Expired(s.now()) || !t.Matches(kind) {
		return models.Token{}, false
	}
	delete(s.tokens, key)
	return t, true
}

// HasPending reports whether a live token of the given kind is already
// outstanding for email. Used to suppress duplicate confirmation mail.
func (s *Store) HasPending(email string, kind models.TokenKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, t := range s.tokens {
		if t.Payload.Email == email && t.Matches(kind) && !t.Expired(now) {
			return true
		}
	}
	return false
}

// Prune drops every expired token and returns how many were removed.
// Purely a memory optimization; correctness never depends on it.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.now())
}

func (s *Store) pruneLocked(now time.Time) int {
	removed := 0
	for key, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed
}

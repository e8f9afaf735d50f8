// Package state keeps the state and nonce values issued with authorization
// URLs until the authorization response comes back, and sweeps expired
// entries out of every time-bounded store in the daemon.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// Default expirations, matching state_expiration_in_minutes and
// nonce_expiration_in_minutes.
const (
	DefaultStateExpiration = 5 * time.Minute
	DefaultNonceExpiration = 5 * time.Minute
)

const tokenBytes = 32

// Store holds issued states and nonces in memory. States are one-time:
// ConsumeState removes them. Nonces stay until they expire, since the same
// nonce is checked by check-id-token and by the token response handler.
type Store struct {
	stateTTL time.Duration
	nonceTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time // value -> expiry
	nonces map[string]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty store. Non-positive expirations select the
// defaults.
func NewStore(stateTTL, nonceTTL time.Duration, opts ...Option) *Store {
	if stateTTL <= 0 {
		stateTTL = DefaultStateExpiration
	}
	if nonceTTL <= 0 {
		nonceTTL = DefaultNonceExpiration
	}
	s := &Store{
		stateTTL: stateTTL,
		nonceTTL: nonceTTL,
		now:      time.Now,
		states:   make(map[string]time.Time),
		nonces:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateState issues and remembers a fresh random state.
func (s *Store) GenerateState() (string, error) {
	v, err := random()
	if err != nil {
		return "", err
	}
	s.PutState(v)
	return v, nil
}

// GenerateNonce issues and remembers a fresh random nonce.
func (s *Store) GenerateNonce() (string, error) {
	v, err := random()
	if err != nil {
		return "", err
	}
	s.PutNonce(v)
	return v, nil
}

// PutState remembers a caller supplied state. Blank values are ignored.
func (s *Store) PutState(state string) {
	if strings.TrimSpace(state) == "" {
		return
	}
	s.mu.Lock()
	s.states[state] = s.now().Add(s.stateTTL)
	s.mu.Unlock()
}

// PutNonce remembers a caller supplied nonce. Blank values are ignored.
func (s *Store) PutNonce(nonce string) {
	if strings.TrimSpace(nonce) == "" {
		return
	}
	s.mu.Lock()
	s.nonces[nonce] = s.now().Add(s.nonceTTL)
	s.mu.Unlock()
}

// ConsumeState checks and forgets state. Blank is BAD_REQUEST_NO_STATE;
// unknown, expired or already consumed is BAD_REQUEST_STATE_NOT_VALID.
func (s *Store) ConsumeState(state string) error {
	if strings.TrimSpace(state) == "" {
		return oxderr.New(oxderr.KindBadRequestNoState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	delete(s.states, state)
	if !ok || !s.now().Before(exp) {
		return oxderr.New(oxderr.KindBadRequestStateNotValid)
	}
	return nil
}

// IsNonceValid reports whether nonce was issued and has not expired.
func (s *Store) IsNonceValid(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.nonces[nonce]
	return ok && s.now().Before(exp)
}

// EvictExpired drops expired states and nonces and returns how many.
func (s *Store) EvictExpired(context.Context) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range []map[string]time.Time{s.states, s.nonces} {
		for v, exp := range m {
			if !now.Before(exp) {
				delete(m, v)
				n++
			}
		}
	}
	return n
}

// Len returns the number of remembered states and nonces.
func (s *Store) Len() (states, nonces int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states), len(s.nonces)
}

func random() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("state: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

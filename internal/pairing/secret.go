// Package pairing implements the credential generator for the mobile control
// channel: a short-lived 6-digit pairing code and the host address a phone
// needs to reach the channel.
//
// The secret is process-scoped and ephemeral. Generating a new code replaces
// the previous one (last-writer-wins); a client holding an old code simply
// fails verification after regeneration. Nothing is persisted across restarts.
package pairing

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/epoq/desktop/internal/errors"
)

// Pairing codes are 6 decimal digits in the inclusive range below, so they
// are short enough to type on a phone while the QR path is the common case.
const (
	secretMin = 100000
	secretMax = 999999
)

// SecretStore holds the current pairing secret for the process.
// It stores only a bcrypt hash of the code; the plaintext exists just long
// enough to be displayed or embedded in the QR payload.
type SecretStore struct {
	mu sync.Mutex

	// hash is the bcrypt hash of the current secret.
	// nil means no secret has been generated yet; all verifications fail.
	hash []byte
}

// NewSecretStore creates an empty secret store.
// Until Generate is called, Verify rejects every token.
func NewSecretStore() *SecretStore {
	return &SecretStore{}
}

// Generate creates a fresh 6-digit pairing code and atomically replaces the
// stored secret. Any client that has not yet authenticated with the previous
// code is invalidated by this call.
//
// The code is drawn from crypto/rand rather than the wall clock so it is not
// predictable within a time window.
func (s *SecretStore) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(secretMax-secretMin+1))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePairingGenerateFailed, "failed to generate pairing code", err)
	}
	code := fmt.Sprintf("%06d", secretMin+n.Int64())

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodePairingGenerateFailed, "failed to hash pairing code", err)
	}

	s.mu.Lock()
	s.hash = hash
	s.mu.Unlock()

	log.Printf("pairing: generated new pairing code")

	return code, nil
}

// Verify reports whether token matches the current secret.
// Comparison is exact string equality at the time of the call; there is no
// retry window or grace period for replaced secrets.
func (s *SecretStore) Verify(token string) bool {
	s.mu.Lock()
	hash := s.hash
	s.mu.Unlock()

	if hash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// HasSecret reports whether a code has been generated since process start.
func (s *SecretStore) HasSecret() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash != nil
}

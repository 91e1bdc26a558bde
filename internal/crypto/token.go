package crypto

import (
	"database/sql"
	"sync"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
)

// TokenRecords is the persistence surface the token store needs.
// Implemented by db.Repository.
type TokenRecords interface {
	SaveAuthToken(ciphertext string, updatedAt int64) error
	GetAuthToken() (string, error)
	DeleteAuthToken() error
}

// nowMillis returns the current time in unix milliseconds.
type nowMillis func() int64

// TokenStore keeps the upstream bearer token encrypted at rest and serves
// it to the API client. It implements api.TokenSource.
type TokenStore struct {
	mu      sync.Mutex
	records TokenRecords
	secret  string
	now     nowMillis

	// cached holds the decrypted token so the hot path skips the database.
	cached string
	loaded bool
}

// NewTokenStore creates a token store keyed by a machine-local secret.
func NewTokenStore(records TokenRecords, secret string, now func() int64) *TokenStore {
	return &TokenStore{
		records: records,
		secret:  secret,
		now:     now,
	}
}

// Save encrypts and persists a new bearer token.
func (s *TokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := Encrypt(token, s.secret)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to encrypt token", err)
	}
	if err := s.records.SaveAuthToken(ciphertext, s.now()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist token", err)
	}

	s.cached = token
	s.loaded = true
	return nil
}

// Token returns the decrypted bearer token, or an empty token when none is
// stored. A token persisted under a different secret is treated as absent.
func (s *TokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.cached, nil
	}

	ciphertext, err := s.records.GetAuthToken()
	if err == sql.ErrNoRows {
		s.cached = ""
		s.loaded = true
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to load token", err)
	}

	token, err := Decrypt(ciphertext, s.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCryptoFailed, "stored token is unreadable", err)
	}

	s.cached = token
	s.loaded = true
	return token, nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.records.DeleteAuthToken(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete token", err)
	}
	s.cached = ""
	s.loaded = true
	return nil
}

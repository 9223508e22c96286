// Package memory provides an in-process Store implementation. It backs the
// engine's unit tests and is usable for embedding, but offers no durability.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
)

type accessRecord struct {
	token domain.AccessToken
	grant domain.Grant
}

type refreshRecord struct {
	token domain.RefreshToken
	grant domain.Grant
}

type Store struct {
	mu sync.Mutex

	access  map[string]accessRecord  // keyed by access token value
	refresh map[string]refreshRecord // keyed by refresh token value

	accessByRefresh map[string]string // refresh value -> access value
	accessByGrant   map[string]string // grant fingerprint -> latest access value
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		access:          make(map[string]accessRecord),
		refresh:         make(map[string]refreshRecord),
		accessByRefresh: make(map[string]string),
		accessByGrant:   make(map[string]string),
	}
}

func (s *Store) StoreAccessToken(ctx context.Context, token domain.AccessToken, grant domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access[token.Value] = accessRecord{token: token, grant: grant}
	if token.RefreshToken != "" {
		s.accessByRefresh[token.RefreshToken] = token.Value
	}
	s.accessByGrant[grant.Fingerprint()] = token.Value
	return nil
}

func (s *Store) ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.access[value]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	return rec.token, nil
}

func (s *Store) RemoveAccessToken(ctx context.Context, token domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeAccessLocked(token.Value)
	return nil
}

func (s *Store) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accessValue, ok := s.accessByRefresh[refreshValue]
	if !ok {
		return false, nil
	}
	delete(s.accessByRefresh, refreshValue)
	s.removeAccessLocked(accessValue)
	return true, nil
}

// removeAccessLocked deletes the access record and any index entries that
// still point at it. Callers hold s.mu.
func (s *Store) removeAccessLocked(value string) {
	rec, ok := s.access[value]
	if !ok {
		return
	}
	delete(s.access, value)
	if rec.token.RefreshToken != "" && s.accessByRefresh[rec.token.RefreshToken] == value {
		delete(s.accessByRefresh, rec.token.RefreshToken)
	}
	fp := rec.grant.Fingerprint()
	if s.accessByGrant[fp] == value {
		delete(s.accessByGrant, fp)
	}
}

func (s *Store) StoreRefreshToken(ctx context.Context, token domain.RefreshToken, grant domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh[token.Value] = refreshRecord{token: token, grant: grant}
	return nil
}

func (s *Store) ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[value]
	if !ok {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	return rec.token, nil
}

func (s *Store) RemoveRefreshToken(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[value]; !ok {
		return false, nil
	}
	delete(s.refresh, value)
	return true, nil
}

func (s *Store) ReadAuthentication(ctx context.Context, accessValue string) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.access[accessValue]
	if !ok {
		return domain.Grant{}, store.ErrNotFound
	}
	return rec.grant, nil
}

func (s *Store) ReadAuthenticationForRefreshToken(ctx context.Context, refreshValue string) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[refreshValue]
	if !ok {
		return domain.Grant{}, store.ErrNotFound
	}
	return rec.grant, nil
}

func (s *Store) GetAccessToken(ctx context.Context, grant domain.Grant) (domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.accessByGrant[grant.Fingerprint()]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	rec, ok := s.access[value]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	return rec.token, nil
}

func (s *Store) DeleteExpiredAccessTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for value, rec := range s.access {
		if rec.token.Expired(now) {
			s.removeAccessLocked(value)
		}
	}
	return nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for value, rec := range s.refresh {
		if rec.token.Expired(now) {
			delete(s.refresh, value)
		}
	}
	return nil
}

// WithTx runs fn against the store itself; the memory driver has no
// transactions, each operation is already atomic under the mutex.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

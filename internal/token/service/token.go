package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// Config holds the engine-level defaults consulted when no client registry
// is configured or when a resolved policy leaves a validity window unset.
// A validity of 0 means the token never expires. The struct is fixed at
// construction; the engine never mutates it.
type Config struct {
	AccessTokenValidity  int  // seconds, default 43200 (12h)
	RefreshTokenValidity int  // seconds, default 2592000 (30d)
	SupportRefreshToken  bool // default false
	ReuseRefreshToken    bool // default true: keep the refresh token value across refreshes
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		AccessTokenValidity:  43200,
		RefreshTokenValidity: 2592000,
		SupportRefreshToken:  false,
		ReuseRefreshToken:    true,
	}
}

// TokenService is the token lifecycle engine. It orchestrates the store,
// the client registry and the optional re-authenticator and enhancer to
// issue, refresh, validate and revoke token pairs. The service itself is
// stateless between calls; all mutable state lives in the Store.
type TokenService struct {
	Store    store.Store
	Registry ClientRegistry  // optional
	Reauth   Reauthenticator // optional
	Enhancer TokenEnhancer   // optional
	Config   Config
}

// Issue mints and persists a brand-new access token (and refresh token when
// the client's policy permits the refresh_token grant type) for the given
// grant. No pre-existing-token lookup occurs: two calls with the same grant
// always produce two independent, individually revocable pairs.
func (s *TokenService) Issue(ctx context.Context, grant domain.Grant) (domain.AccessToken, error) {
	l := slogx.FromContext(ctx)

	refreshToken, err := s.mintRefreshToken(ctx, grant)
	if err != nil {
		return domain.AccessToken{}, err
	}

	accessToken, err := s.mintAccessToken(ctx, grant, refreshToken)
	if err != nil {
		return domain.AccessToken{}, err
	}

	// Access and refresh rows are written as a unit; a failure on either
	// store aborts the whole issuance.
	err = s.Store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.StoreAccessToken(ctx, accessToken, grant); err != nil {
			return err
		}
		if accessToken.RefreshToken != "" {
			return tx.StoreRefreshToken(ctx, refreshToken, grant)
		}
		return nil
	})
	if err != nil {
		return domain.AccessToken{}, err
	}

	l.Debug("access token issued",
		slog.String("client_id", grant.ClientID),
		slog.Bool("client_only", grant.ClientOnly()),
		slog.Bool("refreshable", accessToken.RefreshToken != ""),
	)
	return accessToken, nil
}

// Refresh exchanges a refresh token for a new access token, rotating the
// refresh token unless ReuseRefreshToken is set.
//
// The cleanup in the middle of this flow is deliberately not transactional:
// once the client match succeeds the old access token is consumed, and it
// stays consumed even when the refresh then fails on expiry. A stolen,
// near-expired refresh token must not keep its access token alive by
// tripping a later failure.
func (s *TokenService) Refresh(ctx context.Context, refreshValue string, req domain.TokenRequest) (domain.AccessToken, error) {
	l := slogx.FromContext(ctx)

	// 1. Refresh support is a global switch; without it every refresh is an
	// invalid grant.
	if !s.Config.SupportRefreshToken {
		return domain.AccessToken{}, fmt.Errorf("%w: invalid refresh token: %s", ErrInvalidGrant, refreshValue)
	}

	// 2. Look up the presented refresh token.
	refreshToken, err := s.Store.ReadRefreshToken(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, fmt.Errorf("%w: invalid refresh token: %s", ErrInvalidGrant, refreshValue)
		}
		return domain.AccessToken{}, err
	}

	// 3. A stored refresh token without its grant is store corruption, not a
	// protocol failure.
	grant, err := s.Store.ReadAuthenticationForRefreshToken(ctx, refreshValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, fmt.Errorf("store inconsistency: no authentication for refresh token %s", refreshValue)
		}
		return domain.AccessToken{}, err
	}

	// 4. Re-validate the user principal when a re-authenticator is wired.
	// Details and the client request survive; only the principal is
	// replaced. Failures propagate unswallowed.
	if s.Reauth != nil && !grant.ClientOnly() {
		principal, err := s.Reauth.Authenticate(ctx, *grant.User)
		if err != nil {
			return domain.AccessToken{}, err
		}
		grant.User = &principal
	}

	// 5. The refresh token must be presented by the client it was issued
	// to. Checked before any cleanup: a mismatch leaves the stored pair
	// untouched.
	if grant.ClientID == "" || grant.ClientID != req.ClientID {
		return domain.AccessToken{}, fmt.Errorf("%w: wrong client for this refresh token: %s", ErrInvalidGrant, refreshValue)
	}

	// 6. Consume the access token currently derived from this refresh
	// token. The store reports the removal exactly once per value, which
	// serializes concurrent refresh attempts: losers land here.
	removed, err := s.Store.RemoveAccessTokenUsingRefreshToken(ctx, refreshValue)
	if err != nil {
		return domain.AccessToken{}, err
	}
	if !removed {
		l.Warn("refresh token presented concurrently", slog.String("client_id", grant.ClientID))
		return domain.AccessToken{}, fmt.Errorf("%w: invalid refresh token: %s", ErrInvalidGrant, refreshValue)
	}

	// 7. Lazy expiry: enforced only now, and the record is purged on the
	// spot. The access-token cleanup above stands regardless.
	if refreshToken.Expired(time.Now()) {
		if _, err := s.Store.RemoveRefreshToken(ctx, refreshValue); err != nil {
			return domain.AccessToken{}, err
		}
		return domain.AccessToken{}, fmt.Errorf("%w: refresh token expired: %s", ErrInvalidToken, refreshValue)
	}

	// 8. Rebase the grant onto the refresh request, narrowing scope when
	// the request asks for less than it originally held.
	refreshed, err := createRefreshedGrant(grant, req)
	if err != nil {
		return domain.AccessToken{}, err
	}

	// 9. Rotation policy: reuse keeps the same refresh token value, rotate
	// deletes the old record and mints a replacement under the refreshed
	// grant's policy.
	nextRefresh := refreshToken
	if !s.Config.ReuseRefreshToken {
		if _, err := s.Store.RemoveRefreshToken(ctx, refreshValue); err != nil {
			return domain.AccessToken{}, err
		}
		nextRefresh, err = s.mintRefreshToken(ctx, refreshed)
		if err != nil {
			return domain.AccessToken{}, err
		}
	}

	// 10. Mint and persist the new access token (and the rotated refresh
	// token) under the refreshed grant.
	accessToken, err := s.mintAccessToken(ctx, refreshed, nextRefresh)
	if err != nil {
		return domain.AccessToken{}, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.StoreAccessToken(ctx, accessToken, refreshed); err != nil {
			return err
		}
		if !s.Config.ReuseRefreshToken && accessToken.RefreshToken != "" {
			return tx.StoreRefreshToken(ctx, nextRefresh, refreshed)
		}
		return nil
	})
	if err != nil {
		return domain.AccessToken{}, err
	}

	l.Debug("access token refreshed",
		slog.String("client_id", refreshed.ClientID),
		slog.Bool("rotated", !s.Config.ReuseRefreshToken),
	)
	return accessToken, nil
}

// LoadAuthentication resolves the grant an access token was issued for.
// Unknown values, expired tokens and tokens whose client no longer resolves
// in the registry all fail with ErrInvalidToken. Expired tokens are NOT
// deleted here; they stay in the store for audit until revoked or cleaned
// up by a refresh.
func (s *TokenService) LoadAuthentication(ctx context.Context, tokenValue string) (domain.Grant, error) {
	accessToken, err := s.Store.ReadAccessToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Grant{}, fmt.Errorf("%w: invalid access token: %s", ErrInvalidToken, tokenValue)
		}
		return domain.Grant{}, err
	}
	if accessToken.Expired(time.Now()) {
		return domain.Grant{}, fmt.Errorf("%w: access token expired: %s", ErrInvalidToken, tokenValue)
	}

	grant, err := s.Store.ReadAuthentication(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Grant{}, fmt.Errorf("%w: invalid access token: %s", ErrInvalidToken, tokenValue)
		}
		return domain.Grant{}, err
	}

	if s.Registry != nil {
		if _, err := s.Registry.LoadClientByClientID(ctx, grant.ClientID); err != nil {
			return domain.Grant{}, fmt.Errorf("%w: client not valid: %s: %w", ErrInvalidToken, grant.ClientID, err)
		}
	}
	return grant, nil
}

// GetClientID returns the client a token was issued to.
func (s *TokenService) GetClientID(ctx context.Context, tokenValue string) (string, error) {
	grant, err := s.Store.ReadAuthentication(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid access token: %s", ErrInvalidToken, tokenValue)
		}
		return "", err
	}
	if grant.ClientID == "" {
		return "", fmt.Errorf("%w: invalid access token (no client id): %s", ErrInvalidToken, tokenValue)
	}
	return grant.ClientID, nil
}

// GetAccessToken is a direct store pass-through: the most recently stored
// access token matching the grant, with no validation beyond the store's.
func (s *TokenService) GetAccessToken(ctx context.Context, grant domain.Grant) (domain.AccessToken, error) {
	return s.Store.GetAccessToken(ctx, grant)
}

// ReadAccessToken is a direct store pass-through.
func (s *TokenService) ReadAccessToken(ctx context.Context, tokenValue string) (domain.AccessToken, error) {
	return s.Store.ReadAccessToken(ctx, tokenValue)
}

// Revoke deletes an access token and its linked refresh token. Unknown
// values are an idempotent no-op (false, nil). Revocation bypasses expiry:
// an already-expired token can still be cleaned up here.
func (s *TokenService) Revoke(ctx context.Context, tokenValue string) (bool, error) {
	accessToken, err := s.Store.ReadAccessToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if accessToken.RefreshToken != "" {
		if _, err := s.Store.RemoveRefreshToken(ctx, accessToken.RefreshToken); err != nil {
			return false, err
		}
	}
	if err := s.Store.RemoveAccessToken(ctx, accessToken); err != nil {
		return false, err
	}

	slogx.FromContext(ctx).Info("access token revoked", slog.Bool("had_refresh", accessToken.RefreshToken != ""))
	return true, nil
}

// mintAccessToken builds a new access token for the grant, runs the
// optional enhancer and returns the token to persist. The value is 256 bits
// of crypto/rand entropy; never sequential, never derived.
func (s *TokenService) mintAccessToken(ctx context.Context, grant domain.Grant, refreshToken domain.RefreshToken) (domain.AccessToken, error) {
	value, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.AccessToken{}, err
	}

	accessToken := domain.AccessToken{
		Value:        value,
		Scope:        append([]string(nil), grant.Scope...),
		RefreshToken: refreshToken.Value,
	}

	validity, err := s.accessTokenValidity(ctx, grant.ClientID)
	if err != nil {
		return domain.AccessToken{}, err
	}
	if validity > 0 {
		exp := time.Now().Add(time.Duration(validity) * time.Second)
		accessToken.ExpiresAt = &exp
	}

	if s.Enhancer != nil {
		return s.Enhancer.Enhance(ctx, accessToken, grant)
	}
	return accessToken, nil
}

// mintRefreshToken builds a new refresh token for the grant, or the zero
// token when the resolved policy does not permit the refresh_token grant
// type.
func (s *TokenService) mintRefreshToken(ctx context.Context, grant domain.Grant) (domain.RefreshToken, error) {
	supported, err := s.supportsRefreshToken(ctx, grant.ClientID)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if !supported {
		return domain.RefreshToken{}, nil
	}

	value, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.RefreshToken{}, err
	}

	refreshToken := domain.RefreshToken{Value: value}
	validity, err := s.refreshTokenValidity(ctx, grant.ClientID)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if validity > 0 {
		exp := time.Now().Add(time.Duration(validity) * time.Second)
		refreshToken.ExpiresAt = &exp
	}
	return refreshToken, nil
}

// createRefreshedGrant rebases the grant onto the refresh request. A
// non-empty requested scope must be a subset of the original grant's scope;
// anything beyond it fails with the original scope in the error.
func createRefreshedGrant(grant domain.Grant, req domain.TokenRequest) (domain.Grant, error) {
	refreshed := grant.Refresh(req)
	if len(req.Scope) > 0 {
		if !grant.HasScope(req.Scope) {
			return domain.Grant{}, &InvalidScopeError{Requested: req.Scope, Original: grant.Scope}
		}
		refreshed = refreshed.NarrowScope(req.Scope)
	}
	return refreshed, nil
}

// Policy resolution: the registry wins when configured; engine defaults
// apply when it is absent or leaves a window unset. Registry lookup
// failures during minting are fatal to the operation.

func (s *TokenService) accessTokenValidity(ctx context.Context, clientID string) (int, error) {
	if s.Registry != nil {
		policy, err := s.Registry.LoadClientByClientID(ctx, clientID)
		if err != nil {
			return 0, err
		}
		if policy.AccessTokenValidity != nil {
			return *policy.AccessTokenValidity, nil
		}
	}
	return s.Config.AccessTokenValidity, nil
}

func (s *TokenService) refreshTokenValidity(ctx context.Context, clientID string) (int, error) {
	if s.Registry != nil {
		policy, err := s.Registry.LoadClientByClientID(ctx, clientID)
		if err != nil {
			return 0, err
		}
		if policy.RefreshTokenValidity != nil {
			return *policy.RefreshTokenValidity, nil
		}
	}
	return s.Config.RefreshTokenValidity, nil
}

func (s *TokenService) supportsRefreshToken(ctx context.Context, clientID string) (bool, error) {
	if s.Registry != nil {
		policy, err := s.Registry.LoadClientByClientID(ctx, clientID)
		if err != nil {
			return false, err
		}
		return policy.AllowsGrantType(domain.GrantTypeRefreshToken), nil
	}
	return s.Config.SupportRefreshToken, nil
}

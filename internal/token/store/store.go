package store

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the token persistence contract the lifecycle engine consumes.
// Concrete drivers (memory, sqlite, redis) implement it. The engine holds no
// locks of its own, so per-value operations must be atomic and linearizable
// with respect to other operations on the same value.
//
// The two Remove* methods that return a bool are the serialization point for
// concurrent refresh attempts: across racing callers exactly one observes
// true for a given value. Drivers back this with affected-row counts
// (sqlite), a mutex (memory) or atomic DEL/GETDEL (redis).
type Store interface {
	// StoreAccessToken persists an access token keyed by its value,
	// together with the grant it was issued for.
	StoreAccessToken(ctx context.Context, token domain.AccessToken, grant domain.Grant) error

	// ReadAccessToken returns the token by value, ErrNotFound when absent.
	// Expired tokens are still returned; expiry is the engine's concern.
	ReadAccessToken(ctx context.Context, value string) (domain.AccessToken, error)

	// RemoveAccessToken deletes the access token record. Passing the full
	// token lets drivers clean their refresh/grant indexes in one step.
	RemoveAccessToken(ctx context.Context, token domain.AccessToken) error

	// RemoveAccessTokenUsingRefreshToken deletes the access token currently
	// derived from the given refresh token value. The bool reports whether a
	// record was actually removed, at most once per refresh-token value
	// across concurrent callers.
	RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshValue string) (bool, error)

	// StoreRefreshToken persists a refresh token keyed by its value,
	// together with the grant it was issued for.
	StoreRefreshToken(ctx context.Context, token domain.RefreshToken, grant domain.Grant) error

	// ReadRefreshToken returns the refresh token by value, ErrNotFound when
	// absent. Expired tokens are still returned.
	ReadRefreshToken(ctx context.Context, value string) (domain.RefreshToken, error)

	// RemoveRefreshToken deletes the refresh token record. The bool reports
	// whether a record was actually removed, at most once per value.
	RemoveRefreshToken(ctx context.Context, value string) (bool, error)

	// ReadAuthentication returns the grant an access token was issued for.
	ReadAuthentication(ctx context.Context, accessValue string) (domain.Grant, error)

	// ReadAuthenticationForRefreshToken returns the grant a refresh token
	// was issued for.
	ReadAuthenticationForRefreshToken(ctx context.Context, refreshValue string) (domain.Grant, error)

	// GetAccessToken returns the most recently stored access token whose
	// grant fingerprint matches the given grant, ErrNotFound when none.
	GetAccessToken(ctx context.Context, grant domain.Grant) (domain.AccessToken, error)

	// DeleteExpiredAccessTokens removes access tokens whose expiry has
	// passed. Administrative purge only; the engine never calls it.
	DeleteExpiredAccessTokens(ctx context.Context) error

	// DeleteExpiredRefreshTokens removes refresh tokens whose expiry has
	// passed. Administrative purge only; the engine never calls it.
	DeleteExpiredRefreshTokens(ctx context.Context) error

	// WithTx executes fn within a transaction when the driver supports one
	// (sqlite). Drivers without transactions run fn against themselves; the
	// engine scopes only the minting side of compound operations this way,
	// never the destructive refresh cleanup.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Package storetest holds the conformance suite every Store driver must
// pass. Driver packages call Run from their own tests with a factory for a
// fresh, empty store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/stretchr/testify/require"
)

// Run exercises the full Store contract against stores produced by
// newStore. Each subtest receives its own fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("access token round trip", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", &domain.Principal{Name: "alice"}, []string{"profile:read"})
		token := newAccessToken("access-1", "refresh-1")

		require.NoError(t, st.StoreAccessToken(ctx, token, grant))

		got, err := st.ReadAccessToken(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, token.Value, got.Value)
		require.Equal(t, token.RefreshToken, got.RefreshToken)
		require.Equal(t, token.Scope, got.Scope)
		require.NotNil(t, got.ExpiresAt)
		require.WithinDuration(t, *token.ExpiresAt, *got.ExpiresAt, time.Second)

		auth, err := st.ReadAuthentication(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, grant.ClientID, auth.ClientID)
		require.NotNil(t, auth.User)
		require.Equal(t, "alice", auth.User.Name)
	})

	t.Run("unknown values report not found", func(t *testing.T) {
		st := newStore(t)

		_, err := st.ReadAccessToken(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.ReadRefreshToken(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.ReadAuthentication(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.ReadAuthenticationForRefreshToken(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.GetAccessToken(ctx, domain.NewGrant("nobody", nil, nil))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("refresh token round trip", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", &domain.Principal{Name: "alice"}, []string{"profile:read"})
		exp := time.Now().Add(time.Hour).UTC()
		token := domain.RefreshToken{Value: "refresh-1", ExpiresAt: &exp}

		require.NoError(t, st.StoreRefreshToken(ctx, token, grant))

		got, err := st.ReadRefreshToken(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, token.Value, got.Value)
		require.NotNil(t, got.ExpiresAt)

		auth, err := st.ReadAuthenticationForRefreshToken(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, grant.ClientID, auth.ClientID)
	})

	t.Run("remove refresh token reports removal once", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", nil, nil)
		require.NoError(t, st.StoreRefreshToken(ctx, domain.RefreshToken{Value: "refresh-1"}, grant))

		removed, err := st.RemoveRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		require.True(t, removed)

		removed, err = st.RemoveRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		require.False(t, removed)

		_, err = st.ReadRefreshToken(ctx, "refresh-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("remove access token by refresh value reports removal once", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", nil, []string{"profile:read"})
		token := newAccessToken("access-1", "refresh-1")
		require.NoError(t, st.StoreAccessToken(ctx, token, grant))

		removed, err := st.RemoveAccessTokenUsingRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		require.True(t, removed)

		removed, err = st.RemoveAccessTokenUsingRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		require.False(t, removed)

		_, err = st.ReadAccessToken(ctx, "access-1")
		require.ErrorIs(t, err, store.ErrNotFound)

		// The grant index must not dangle.
		_, err = st.GetAccessToken(ctx, grant)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("remove access token cleans its indexes", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", nil, []string{"profile:read"})
		token := newAccessToken("access-1", "refresh-1")
		require.NoError(t, st.StoreAccessToken(ctx, token, grant))

		require.NoError(t, st.RemoveAccessToken(ctx, token))

		_, err := st.ReadAccessToken(ctx, "access-1")
		require.ErrorIs(t, err, store.ErrNotFound)

		removed, err := st.RemoveAccessTokenUsingRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		require.False(t, removed)

		_, err = st.GetAccessToken(ctx, grant)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get access token returns latest for grant", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", &domain.Principal{Name: "alice"}, []string{"profile:read"})

		require.NoError(t, st.StoreAccessToken(ctx, newAccessToken("access-1", ""), grant))
		require.NoError(t, st.StoreAccessToken(ctx, newAccessToken("access-2", ""), grant))

		got, err := st.GetAccessToken(ctx, grant)
		require.NoError(t, err)
		require.Equal(t, "access-2", got.Value)

		// A grant with different scope has a different fingerprint.
		other := grant.NarrowScope([]string{"other:scope"})
		_, err = st.GetAccessToken(ctx, other)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("expired purge removes only expired records", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", nil, nil)

		past := time.Now().Add(-time.Hour).UTC()
		future := time.Now().Add(time.Hour).UTC()

		require.NoError(t, st.StoreAccessToken(ctx, domain.AccessToken{Value: "dead", ExpiresAt: &past}, grant))
		require.NoError(t, st.StoreAccessToken(ctx, domain.AccessToken{Value: "live", ExpiresAt: &future}, grant))
		require.NoError(t, st.StoreAccessToken(ctx, domain.AccessToken{Value: "forever"}, grant))
		require.NoError(t, st.StoreRefreshToken(ctx, domain.RefreshToken{Value: "dead-r", ExpiresAt: &past}, grant))
		require.NoError(t, st.StoreRefreshToken(ctx, domain.RefreshToken{Value: "live-r", ExpiresAt: &future}, grant))

		require.NoError(t, st.DeleteExpiredAccessTokens(ctx))
		require.NoError(t, st.DeleteExpiredRefreshTokens(ctx))

		_, err := st.ReadAccessToken(ctx, "dead")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.ReadAccessToken(ctx, "live")
		require.NoError(t, err)
		_, err = st.ReadAccessToken(ctx, "forever")
		require.NoError(t, err)

		_, err = st.ReadRefreshToken(ctx, "dead-r")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.ReadRefreshToken(ctx, "live-r")
		require.NoError(t, err)
	})

	t.Run("with tx persists on success", func(t *testing.T) {
		st := newStore(t)
		grant := domain.NewGrant("web-app", nil, []string{"profile:read"})

		err := st.WithTx(ctx, func(tx store.Store) error {
			if err := tx.StoreAccessToken(ctx, newAccessToken("access-1", "refresh-1"), grant); err != nil {
				return err
			}
			return tx.StoreRefreshToken(ctx, domain.RefreshToken{Value: "refresh-1"}, grant)
		})
		require.NoError(t, err)

		_, err = st.ReadAccessToken(ctx, "access-1")
		require.NoError(t, err)
		_, err = st.ReadRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.Ping(ctx))
	})
}

func newAccessToken(value, refreshValue string) domain.AccessToken {
	exp := time.Now().Add(time.Hour).UTC()
	return domain.AccessToken{
		Value:        value,
		ExpiresAt:    &exp,
		Scope:        []string{"profile:read"},
		RefreshToken: refreshValue,
	}
}

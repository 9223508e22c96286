package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/aussiebroadwan/tokend/internal/token/store/drivers/memory"
	"github.com/stretchr/testify/require"
)

func newTestService(st store.Store) *TokenService {
	cfg := DefaultConfig()
	cfg.SupportRefreshToken = true
	cfg.ReuseRefreshToken = false
	return &TokenService{Store: st, Config: cfg}
}

func userGrant() domain.Grant {
	return domain.NewGrant("web-app", &domain.Principal{Name: "alice", Authorities: []string{"user"}}, []string{"profile:read", "admin:write"})
}

type reauthFunc func(ctx context.Context, p domain.Principal) (domain.Principal, error)

func (f reauthFunc) Authenticate(ctx context.Context, p domain.Principal) (domain.Principal, error) {
	return f(ctx, p)
}

func TestIssue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("issues a refreshable token pair", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.NotEmpty(t, token.Value)
		require.NotEmpty(t, token.RefreshToken)
		require.NotNil(t, token.ExpiresAt)
		require.Equal(t, []string{"profile:read", "admin:write"}, token.Scope)

		stored, err := svc.ReadAccessToken(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, token.Value, stored.Value)

		_, err = svc.Store.ReadRefreshToken(ctx, token.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("no refresh token when refresh is unsupported", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Config.SupportRefreshToken = false

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.Empty(t, token.RefreshToken)
	})

	t.Run("same grant twice yields two independent pairs", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		grant := userGrant()

		first, err := svc.Issue(ctx, grant)
		require.NoError(t, err)
		second, err := svc.Issue(ctx, grant)
		require.NoError(t, err)

		require.NotEqual(t, first.Value, second.Value)
		require.NotEqual(t, first.RefreshToken, second.RefreshToken)

		// Revoking one session leaves the other intact.
		revoked, err := svc.Revoke(ctx, first.Value)
		require.NoError(t, err)
		require.True(t, revoked)

		_, err = svc.LoadAuthentication(ctx, second.Value)
		require.NoError(t, err)
	})

	t.Run("zero validity issues a non-expiring token", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Config.AccessTokenValidity = 0
		svc.Config.RefreshTokenValidity = 0

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.Nil(t, token.ExpiresAt)

		refresh, err := svc.Store.ReadRefreshToken(ctx, token.RefreshToken)
		require.NoError(t, err)
		require.Nil(t, refresh.ExpiresAt)
	})
}

func TestLoadAuthentication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns the issuing grant", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		grant := userGrant()

		token, err := svc.Issue(ctx, grant)
		require.NoError(t, err)

		got, err := svc.LoadAuthentication(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, grant.ClientID, got.ClientID)
		require.Equal(t, "alice", got.User.Name)
		require.Equal(t, grant.Scope, got.Scope)
	})

	t.Run("unknown token is invalid", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		_, err := svc.LoadAuthentication(ctx, "no-such-token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token is invalid but not deleted", func(t *testing.T) {
		st := memory.NewStore()
		svc := newTestService(st)

		past := time.Now().Add(-time.Minute)
		expired := domain.AccessToken{Value: "stale", ExpiresAt: &past}
		require.NoError(t, st.StoreAccessToken(ctx, expired, userGrant()))

		_, err := svc.LoadAuthentication(ctx, "stale")
		require.ErrorIs(t, err, ErrInvalidToken)

		// The record survives for audit until revoked or purged.
		_, err = st.ReadAccessToken(ctx, "stale")
		require.NoError(t, err)
	})

	t.Run("unregistered client invalidates the token", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		// The client disappears from the registry after issuance.
		svc.Registry = &StaticRegistry{Clients: map[string]domain.ClientPolicy{}}

		_, err = svc.LoadAuthentication(ctx, token.Value)
		require.ErrorIs(t, err, ErrInvalidToken)
		require.ErrorIs(t, err, ErrClientNotRegistered)
	})
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	request := domain.TokenRequest{ClientID: "web-app", GrantType: domain.GrantTypeRefreshToken}

	t.Run("rotates the pair and invalidates the old one", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		fresh, err := svc.Refresh(ctx, old.RefreshToken, request)
		require.NoError(t, err)
		require.NotEqual(t, old.Value, fresh.Value)
		require.NotEqual(t, old.RefreshToken, fresh.RefreshToken)
		require.NotEmpty(t, fresh.RefreshToken)

		// Old access token is consumed, old refresh token is gone.
		_, err = svc.LoadAuthentication(ctx, old.Value)
		require.ErrorIs(t, err, ErrInvalidToken)
		_, err = svc.Store.ReadRefreshToken(ctx, old.RefreshToken)
		require.ErrorIs(t, err, store.ErrNotFound)

		// The new pair works.
		_, err = svc.LoadAuthentication(ctx, fresh.Value)
		require.NoError(t, err)
		_, err = svc.Refresh(ctx, fresh.RefreshToken, request)
		require.NoError(t, err)
	})

	t.Run("reuse mode keeps the refresh token value", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Config.ReuseRefreshToken = true

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		fresh, err := svc.Refresh(ctx, old.RefreshToken, request)
		require.NoError(t, err)
		require.Equal(t, old.RefreshToken, fresh.RefreshToken)

		_, err = svc.Store.ReadRefreshToken(ctx, old.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("refresh disabled globally", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		svc.Config.SupportRefreshToken = false
		_, err = svc.Refresh(ctx, old.RefreshToken, request)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		_, err := svc.Refresh(ctx, "no-such-token", request)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("wrong client leaves the stored pair untouched", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, old.RefreshToken, domain.TokenRequest{ClientID: "other-app"})
		require.ErrorIs(t, err, ErrInvalidGrant)

		// No cleanup happened: the original pair still works.
		_, err = svc.LoadAuthentication(ctx, old.Value)
		require.NoError(t, err)
		_, err = svc.Refresh(ctx, old.RefreshToken, request)
		require.NoError(t, err)
	})

	t.Run("expired refresh token is purged and its access token consumed", func(t *testing.T) {
		st := memory.NewStore()
		svc := newTestService(st)

		grant := userGrant()
		past := time.Now().Add(-time.Minute)
		refresh := domain.RefreshToken{Value: "stale-refresh", ExpiresAt: &past}
		access := domain.AccessToken{Value: "linked-access", RefreshToken: "stale-refresh"}
		require.NoError(t, st.StoreRefreshToken(ctx, refresh, grant))
		require.NoError(t, st.StoreAccessToken(ctx, access, grant))

		_, err := svc.Refresh(ctx, "stale-refresh", request)
		require.ErrorIs(t, err, ErrInvalidToken)

		// Both records are gone: the access-token cleanup ran before the
		// expiry check and stands regardless of it.
		_, err = st.ReadRefreshToken(ctx, "stale-refresh")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.ReadAccessToken(ctx, "linked-access")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("narrows scope on request", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		narrowed := request
		narrowed.Scope = []string{"profile:read"}

		fresh, err := svc.Refresh(ctx, old.RefreshToken, narrowed)
		require.NoError(t, err)
		require.Equal(t, []string{"profile:read"}, fresh.Scope)

		got, err := svc.LoadAuthentication(ctx, fresh.Value)
		require.NoError(t, err)
		require.Equal(t, []string{"profile:read"}, got.Scope)
	})

	t.Run("rejects scope beyond the original grant", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		widened := request
		widened.Scope = []string{"profile:read", "payments:write"}

		_, err = svc.Refresh(ctx, old.RefreshToken, widened)
		require.ErrorIs(t, err, ErrInvalidScope)

		var scopeErr *InvalidScopeError
		require.ErrorAs(t, err, &scopeErr)
		require.Equal(t, widened.Scope, scopeErr.Requested)
		require.Equal(t, []string{"profile:read", "admin:write"}, scopeErr.Original)
	})

	t.Run("re-authenticator replaces the principal", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Reauth = reauthFunc(func(ctx context.Context, p domain.Principal) (domain.Principal, error) {
			p.Authorities = []string{"user", "beta"}
			return p, nil
		})

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		fresh, err := svc.Refresh(ctx, old.RefreshToken, request)
		require.NoError(t, err)

		got, err := svc.LoadAuthentication(ctx, fresh.Value)
		require.NoError(t, err)
		require.Equal(t, []string{"user", "beta"}, got.User.Authorities)
	})

	t.Run("re-authentication failure propagates", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		denied := errors.New("account disabled")
		svc.Reauth = reauthFunc(func(ctx context.Context, p domain.Principal) (domain.Principal, error) {
			return domain.Principal{}, denied
		})

		old, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, old.RefreshToken, request)
		require.ErrorIs(t, err, denied)

		// Failure happened before any cleanup.
		_, err = svc.LoadAuthentication(ctx, old.Value)
		require.NoError(t, err)
	})

	t.Run("details survive the refresh", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		grant := userGrant()
		grant.Details = map[string]string{"device": "pixel-9"}

		old, err := svc.Issue(ctx, grant)
		require.NoError(t, err)

		fresh, err := svc.Refresh(ctx, old.RefreshToken, request)
		require.NoError(t, err)

		got, err := svc.LoadAuthentication(ctx, fresh.Value)
		require.NoError(t, err)
		require.Equal(t, "pixel-9", got.Details["device"])
	})
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("removes the pair and is idempotent", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		revoked, err := svc.Revoke(ctx, token.Value)
		require.NoError(t, err)
		require.True(t, revoked)

		_, err = svc.Store.ReadRefreshToken(ctx, token.RefreshToken)
		require.ErrorIs(t, err, store.ErrNotFound)

		revoked, err = svc.Revoke(ctx, token.Value)
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("unknown token is a no-op", func(t *testing.T) {
		svc := newTestService(memory.NewStore())

		revoked, err := svc.Revoke(ctx, "no-such-token")
		require.NoError(t, err)
		require.False(t, revoked)
	})

	t.Run("expired tokens can still be revoked", func(t *testing.T) {
		st := memory.NewStore()
		svc := newTestService(st)

		past := time.Now().Add(-time.Minute)
		expired := domain.AccessToken{Value: "stale", ExpiresAt: &past}
		require.NoError(t, st.StoreAccessToken(ctx, expired, userGrant()))

		revoked, err := svc.Revoke(ctx, "stale")
		require.NoError(t, err)
		require.True(t, revoked)
	})
}

func TestGetClientID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(memory.NewStore())

	token, err := svc.Issue(ctx, userGrant())
	require.NoError(t, err)

	clientID, err := svc.GetClientID(ctx, token.Value)
	require.NoError(t, err)
	require.Equal(t, "web-app", clientID)

	_, err = svc.GetClientID(ctx, "no-such-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(memory.NewStore())
	grant := userGrant()

	_, err := svc.GetAccessToken(ctx, grant)
	require.ErrorIs(t, err, store.ErrNotFound)

	first, err := svc.Issue(ctx, grant)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, grant)
	require.NoError(t, err)

	latest, err := svc.GetAccessToken(ctx, grant)
	require.NoError(t, err)
	require.Equal(t, second.Value, latest.Value)
	require.NotEqual(t, first.Value, latest.Value)
}

func TestRegistryPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	intPtr := func(v int) *int { return &v }

	t.Run("registry validity overrides engine defaults", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Registry = &StaticRegistry{Clients: map[string]domain.ClientPolicy{
			"web-app": {
				ClientID:            "web-app",
				GrantTypes:          []string{domain.GrantTypeRefreshToken},
				AccessTokenValidity: intPtr(60),
			},
		}}

		before := time.Now()
		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.NotNil(t, token.ExpiresAt)
		require.WithinDuration(t, before.Add(60*time.Second), *token.ExpiresAt, 5*time.Second)
	})

	t.Run("unset registry validity falls back to the engine default", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Config.AccessTokenValidity = 120
		svc.Registry = &StaticRegistry{Clients: map[string]domain.ClientPolicy{
			"web-app": {ClientID: "web-app", GrantTypes: []string{domain.GrantTypeRefreshToken}},
		}}

		before := time.Now()
		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.NotNil(t, token.ExpiresAt)
		require.WithinDuration(t, before.Add(120*time.Second), *token.ExpiresAt, 5*time.Second)
	})

	t.Run("policy without refresh_token grant suppresses the refresh token", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Registry = &StaticRegistry{Clients: map[string]domain.ClientPolicy{
			"web-app": {ClientID: "web-app", GrantTypes: []string{domain.GrantTypeClientCredentials}},
		}}

		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)
		require.Empty(t, token.RefreshToken)
	})

	t.Run("unregistered client cannot be issued a token", func(t *testing.T) {
		svc := newTestService(memory.NewStore())
		svc.Registry = &StaticRegistry{Clients: map[string]domain.ClientPolicy{}}

		_, err := svc.Issue(ctx, userGrant())
		require.ErrorIs(t, err, ErrClientNotRegistered)
	})
}

func TestTokenValueEntropy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(memory.NewStore())
	svc.Config.SupportRefreshToken = false

	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		token, err := svc.Issue(ctx, userGrant())
		require.NoError(t, err)

		// 32 bytes of entropy, base64url without padding.
		require.Len(t, token.Value, 43)

		_, dup := seen[token.Value]
		require.False(t, dup, "token value repeated")
		seen[token.Value] = struct{}{}
	}
}

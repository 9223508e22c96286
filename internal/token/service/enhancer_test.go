package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store/drivers/memory"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestEnhancer(t *testing.T) (*ClaimsEnhancer, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &ClaimsEnhancer{Issuer: "tokend-test", Key: priv, Kid: "test-key"}, pub
}

func TestClaimsEnhancer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("attaches a verifiable assertion", func(t *testing.T) {
		enhancer, pub := newTestEnhancer(t)

		exp := time.Now().Add(time.Hour)
		token := domain.AccessToken{
			Value:        "opaque-value",
			ExpiresAt:    &exp,
			Scope:        []string{"profile:read", "admin:write"},
			RefreshToken: "refresh-value",
		}
		grant := domain.NewGrant("web-app", &domain.Principal{Name: "alice"}, token.Scope)

		enhanced, err := enhancer.Enhance(ctx, token, grant)
		require.NoError(t, err)

		// Token identity is untouched.
		require.Equal(t, token.Value, enhanced.Value)
		require.Equal(t, token.ExpiresAt, enhanced.ExpiresAt)
		require.Equal(t, token.Scope, enhanced.Scope)
		require.Equal(t, token.RefreshToken, enhanced.RefreshToken)

		assertion := enhanced.Extra["assertion"]
		require.NotEmpty(t, assertion)

		parsed, err := jwt.Parse(assertion, func(tok *jwt.Token) (any, error) {
			require.Equal(t, "EdDSA", tok.Method.Alg())
			require.Equal(t, "test-key", tok.Header["kid"])
			return pub, nil
		})
		require.NoError(t, err)
		require.True(t, parsed.Valid)

		claims := parsed.Claims.(jwt.MapClaims)
		require.Equal(t, "tokend-test", claims["iss"])
		require.Equal(t, "web-app", claims["cid"])
		require.Equal(t, "alice", claims["sub"])
		require.Equal(t, "profile:read admin:write", claims["scp"])

		// jti is the fingerprint: the assertion must not leak a second
		// usable credential.
		require.Equal(t, cryptox.FingerprintToken(token.Value), claims["jti"])
		require.NotContains(t, assertion, token.Value)
	})

	t.Run("client-only grants use the client id as subject", func(t *testing.T) {
		enhancer, pub := newTestEnhancer(t)
		grant := domain.NewGrant("backend-worker", nil, nil)

		enhanced, err := enhancer.Enhance(ctx, domain.AccessToken{Value: "opaque"}, grant)
		require.NoError(t, err)

		parsed, err := jwt.Parse(enhanced.Extra["assertion"], func(*jwt.Token) (any, error) { return pub, nil })
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		require.Equal(t, "backend-worker", claims["sub"])
	})

	t.Run("missing key fails", func(t *testing.T) {
		enhancer := &ClaimsEnhancer{Issuer: "tokend-test"}

		_, err := enhancer.Enhance(ctx, domain.AccessToken{Value: "opaque"}, domain.NewGrant("web-app", nil, nil))
		require.Error(t, err)
	})
}

func TestIssuePersistsEnhancedToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	enhancer, _ := newTestEnhancer(t)
	svc := newTestService(memory.NewStore())
	svc.Enhancer = enhancer

	token, err := svc.Issue(ctx, userGrant())
	require.NoError(t, err)
	require.NotEmpty(t, token.Extra["assertion"])

	stored, err := svc.ReadAccessToken(ctx, token.Value)
	require.NoError(t, err)
	require.Equal(t, token.Extra["assertion"], stored.Extra["assertion"])
}

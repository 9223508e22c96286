package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/aussiebroadwan/tokend/internal/token/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestStaleGrantIndexIsNotClobbered(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	grant := domain.NewGrant("web-app", &domain.Principal{Name: "alice"}, []string{"profile:read"})

	// Two tokens issued for the same grant: the index follows the newer
	// one, and removing the older must leave the index alone.
	older := domain.AccessToken{Value: "access-1"}
	newer := domain.AccessToken{Value: "access-2"}
	require.NoError(t, st.StoreAccessToken(ctx, older, grant))
	require.NoError(t, st.StoreAccessToken(ctx, newer, grant))

	require.NoError(t, st.RemoveAccessToken(ctx, older))

	got, err := st.GetAccessToken(ctx, grant)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.Value)
}

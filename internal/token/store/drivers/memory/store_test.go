package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	"github.com/aussiebroadwan/tokend/internal/token/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		return NewStore()
	})
}

func TestRemoveByRefreshIsAtMostOnceUnderContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewStore()

	grant := domain.NewGrant("web-app", nil, []string{"profile:read"})
	token := domain.AccessToken{Value: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, st.StoreAccessToken(ctx, token, grant))

	const workers = 32
	var removals atomic.Int64
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			removed, err := st.RemoveAccessTokenUsingRefreshToken(ctx, "refresh-1")
			require.NoError(t, err)
			if removed {
				removals.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), removals.Load())
}

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store/drivers/memory"
	"github.com/stretchr/testify/require"
)

// A refresh token presented by N callers at once must mint exactly one new
// access token; every other caller fails with an invalid grant and no
// duplicate token pairs are left behind.
func TestConcurrentRefreshMintsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := newTestService(memory.NewStore())

	old, err := svc.Issue(ctx, userGrant())
	require.NoError(t, err)

	const workers = 32

	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Refresh(ctx, old.RefreshToken, domain.TokenRequest{
				ClientID:  "web-app",
				GrantType: domain.GrantTypeRefreshToken,
			})
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	var successes, invalidGrants int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			require.ErrorIs(t, err, ErrInvalidGrant)
			invalidGrants++
		}
	}

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, invalidGrants)

	// The losing attempts consumed nothing extra: the old pair is gone and
	// exactly one replacement pair exists.
	_, err = svc.LoadAuthentication(ctx, old.Value)
	require.ErrorIs(t, err, ErrInvalidToken)

	latest, err := svc.GetAccessToken(ctx, userGrant())
	require.NoError(t, err)
	require.NotEqual(t, old.Value, latest.Value)
}

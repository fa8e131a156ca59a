package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/loanpurchase/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunRegistry_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewSharedRedis(t)
	ctx := context.Background()

	t.Run("acquire release current", func(t *testing.T) {
		reg := cache.NewRedisRunRegistryWithClient(client, "it:basic:", time.Hour)
		runID := uuid.New()

		require.NoError(t, reg.Acquire(ctx, "acme", runID))
		assert.ErrorIs(t, reg.Acquire(ctx, "acme", uuid.New()), shared.ErrRunInProgress)

		current, ok, err := reg.Current(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, runID, current)

		// another tenant is unaffected
		require.NoError(t, reg.Acquire(ctx, "globex", uuid.New()))

		require.NoError(t, reg.Release(ctx, "acme", runID))
		_, ok, err = reg.Current(ctx, "acme")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release by another run is ignored", func(t *testing.T) {
		reg := cache.NewRedisRunRegistryWithClient(client, "it:owner:", time.Hour)
		owner := uuid.New()

		require.NoError(t, reg.Acquire(ctx, "acme", owner))
		require.NoError(t, reg.Release(ctx, "acme", uuid.New()))

		current, ok, err := reg.Current(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, owner, current)
	})

	t.Run("entry expires with the ttl", func(t *testing.T) {
		reg := cache.NewRedisRunRegistryWithClient(client, "it:ttl:", 300*time.Millisecond)
		require.NoError(t, reg.Acquire(ctx, "acme", uuid.New()))

		assert.Eventually(t, func() bool {
			_, ok, err := reg.Current(ctx, "acme")
			return err == nil && !ok
		}, 5*time.Second, 100*time.Millisecond)

		assert.NoError(t, reg.Acquire(ctx, "acme", uuid.New()))
	})

	t.Run("exactly one concurrent acquire wins", func(t *testing.T) {
		reg := cache.NewRedisRunRegistryWithClient(client, "it:race:", time.Hour)

		const callers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := reg.Acquire(ctx, "acme", uuid.New()); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"talep/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker(50 * time.Millisecond)
	ctx := context.Background()

	t.Run("BusyAfterWait", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, 1)
		require.NoError(t, err)

		_, err = locker.Lock(ctx, 1)
		assert.True(t, errors.Is(err, domain.ErrResourceBusy))

		unlock()
		unlock() // second call is a no-op

		again, err := locker.Lock(ctx, 1)
		require.NoError(t, err)
		again()
	})

	t.Run("ResourcesAreIndependent", func(t *testing.T) {
		a, err := locker.Lock(ctx, 10)
		require.NoError(t, err)
		defer a()

		b, err := locker.Lock(ctx, 11)
		require.NoError(t, err)
		b()
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		l := NewMemoryLocker(0)
		held, err := l.Lock(ctx, 2)
		require.NoError(t, err)
		defer held()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(cctx, 2)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("MutualExclusion", func(t *testing.T) {
		l := NewMemoryLocker(5 * time.Second)
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(ctx, 3)
				if err != nil {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
	})
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"talep/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, resourceID int64) (func(), error) {
	args := m.Called(ctx, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, int64(1)).Return(noop, nil).Once()

		unlock, err := locker.Lock(ctx, 1)
		require.NoError(t, err)
		assert.NotNil(t, unlock)
		primary.AssertExpectations(t)
	})

	t.Run("BusyIsNotAFailure", func(t *testing.T) {
		busy := fmt.Errorf("resource 2: %w", domain.ErrResourceBusy)
		primary.On("Lock", ctx, int64(2)).Return(nil, busy).Once()

		_, err := locker.Lock(ctx, 2)
		assert.True(t, errors.Is(err, domain.ErrResourceBusy))
		assert.False(t, locker.isDown.Load())
		fallback.AssertNotCalled(t, "Lock", ctx, int64(2))
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Lock", ctx, int64(3)).Return(nil, errors.New("connection refused")).Once()
		fallback.On("Lock", ctx, int64(3)).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, 3)
		assert.NoError(t, err)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Lock", ctx, int64(4)).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, 4)
		assert.NoError(t, err)
		primary.AssertNotCalled(t, "Lock", ctx, int64(4))
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.mu.Lock()
		locker.lastCheck = time.Now().Add(-2 * time.Minute)
		locker.mu.Unlock()

		primary.On("Lock", ctx, int64(5)).Return(noop, nil).Once()

		_, err := locker.Lock(ctx, 5)
		assert.NoError(t, err)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})
}

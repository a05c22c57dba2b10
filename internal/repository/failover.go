package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"talep/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary locker while it is reachable and the
// fallback otherwise. A busy resource or a cancelled context is a normal
// answer from the primary and does not trigger failover.
type FailoverLocker struct {
	primary  domain.ResourceLocker
	fallback domain.ResourceLocker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.ResourceLocker, logger *zerolog.Logger) *FailoverLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) shouldTryPrimary() bool {
	if !l.isDown.Load() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastCheck) > recoveryInterval
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
	l.isDown.Store(true)
}

func (l *FailoverLocker) Lock(ctx context.Context, resourceID int64) (func(), error) {
	if l.shouldTryPrimary() {
		unlock, err := l.primary.Lock(ctx, resourceID)
		switch {
		case err == nil:
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("primary locker recovered")
			}
			return unlock, nil
		case errors.Is(err, domain.ErrResourceBusy),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			l.logger.Error().Err(err).Int64("resource_id", resourceID).Msg("Primary locker failed, falling back to memory")
			l.markDown()
		}
	}

	return l.fallback.Lock(ctx, resourceID)
}

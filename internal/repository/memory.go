package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"talep/internal/domain"
)

// MemoryLocker serializes work per resource inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
	wait  time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		slots: make(map[int64]chan struct{}),
		wait:  wait,
	}
}

func (l *MemoryLocker) slot(resourceID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[resourceID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[resourceID] = ch
	}
	return ch
}

// Lock blocks until the resource is free, ctx is done or the wait timeout
// passes. A timeout is reported as domain.ErrResourceBusy.
func (l *MemoryLocker) Lock(ctx context.Context, resourceID int64) (func(), error) {
	ch := l.slot(resourceID)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("resource %d: %w", resourceID, domain.ErrResourceBusy)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

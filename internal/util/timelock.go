package util

import (
	"context"
	"sync"
	"time"
)

// TimeLock caches a value for interval. Once the interval elapses the next
// Get calls refresh; a failed refresh keeps the previous value and is not
// cached, so the following Get tries again.
type TimeLock[V any] struct {
	interval time.Duration
	expireAt time.Time
	value    V
	refresh  func(ctx context.Context, val V) (V, error)
	mu       sync.RWMutex
}

func NewTimeLock[V any](interval time.Duration, refresh func(ctx context.Context, val V) (V, error)) *TimeLock[V] {
	return &TimeLock[V]{
		interval: interval,
		refresh:  refresh,
		expireAt: time.Now().Add(-interval),
	}
}

func (tl *TimeLock[V]) Get(ctx context.Context) (V, error) {
	tl.mu.RLock()
	if time.Now().Before(tl.expireAt) {
		v := tl.value
		tl.mu.RUnlock()
		return v, nil
	}
	tl.mu.RUnlock()
	return tl.refreshValue(ctx)
}

// Invalidate forces the next Get to refresh.
func (tl *TimeLock[V]) Invalidate() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.expireAt = time.Now().Add(-tl.interval)
}

func (tl *TimeLock[V]) refreshValue(ctx context.Context) (V, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	// double check expireAt in case another goroutine has updated it
	if time.Now().Before(tl.expireAt) {
		return tl.value, nil
	}
	value, err := tl.refresh(ctx, tl.value)
	if err != nil {
		return tl.value, err
	}
	tl.value = value
	tl.expireAt = time.Now().Add(tl.interval)
	return tl.value, nil
}

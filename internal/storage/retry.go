// Retry decorator for Store, adapted from mini-rpc's RetryMiddleware: same
// "retry only on transient-looking errors, exponential backoff" shape, but
// retargeted from wrapping an RPC HandlerFunc to wrapping the two Store
// calls that actually talk to etcd over the network.
package storage

import (
	"context"
	"errors"
	"time"
)

// WithRetry wraps a Store so that calls failing with ErrStorageUnavailable
// are retried maxRetries times with exponential backoff starting at
// baseDelay, the same backoff mini-rpc's RetryMiddleware applies to
// timeout/connection-refused RPC errors. Group-not-found (found == false,
// err == nil) is never retried — that's a legitimate answer, not a
// transient failure.
func WithRetry(store Store, maxRetries int, baseDelay time.Duration) Store {
	return &retryingStore{store: store, maxRetries: maxRetries, baseDelay: baseDelay}
}

type retryingStore struct {
	store      Store
	maxRetries int
	baseDelay  time.Duration
}

func (s *retryingStore) ListGroups(ctx context.Context) ([]string, error) {
	var names []string
	var err error
	for attempt := 0; ; attempt++ {
		names, err = s.store.ListGroups(ctx)
		if err == nil || !errors.Is(err, ErrStorageUnavailable) || attempt >= s.maxRetries {
			return names, err
		}
		if !sleepBackoff(ctx, s.baseDelay, attempt) {
			return names, err
		}
	}
}

func (s *retryingStore) LoadGroup(ctx context.Context, name string) (map[string]uint32, bool, error) {
	var mapping map[string]uint32
	var found bool
	var err error
	for attempt := 0; ; attempt++ {
		mapping, found, err = s.store.LoadGroup(ctx, name)
		if err == nil || !errors.Is(err, ErrStorageUnavailable) || attempt >= s.maxRetries {
			return mapping, found, err
		}
		if !sleepBackoff(ctx, s.baseDelay, attempt) {
			return mapping, found, err
		}
	}
}

// sleepBackoff sleeps baseDelay*2^attempt, or returns false early if ctx is
// cancelled first.
func sleepBackoff(ctx context.Context, baseDelay time.Duration, attempt int) bool {
	select {
	case <-time.After(baseDelay * time.Duration(1<<uint(attempt))):
		return true
	case <-ctx.Done():
		return false
	}
}

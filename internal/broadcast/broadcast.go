// Package broadcast implements the low-latency mirror of current balances.
// It is a best-effort cache with change notifications for real-time
// observers; the durable store remains authoritative and broadcast write
// failures never fail the originating balance operation.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Compile-time check: *Store must satisfy store.BroadcastStore.
var _ store.BroadcastStore = (*Store)(nil)

type subscriber struct {
	id       int64
	onChange func(models.BroadcastBalance)
}

// Store is an in-process broadcast store: a keyed value cache plus a
// per-path subscriber registry. Notifications are delivered synchronously in
// registration order.
type Store struct {
	mu          sync.RWMutex
	values      map[string]models.BroadcastBalance
	subscribers map[string][]subscriber
	nextSubId   int64
	closed      bool
}

func NewStore() *Store {
	return &Store{
		values:      make(map[string]models.BroadcastBalance),
		subscribers: make(map[string][]subscriber),
	}
}

// Set stores the value under path and notifies that path's subscribers.
func (s *Store) Set(ctx context.Context, path string, value models.BroadcastBalance) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: broadcast store closed", store.ErrStorageUnavailable)
	}
	s.values[path] = value
	subs := make([]subscriber, len(s.subscribers[path]))
	copy(subs, s.subscribers[path])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.onChange(value)
	}
	return nil
}

// Get returns the cached value for path, or a wrapped store.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*models.BroadcastBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[path]
	if !ok {
		return nil, fmt.Errorf("%w: broadcast value at %s", store.ErrNotFound, path)
	}
	v := value
	return &v, nil
}

// Subscribe registers onChange for updates under path. The returned
// unsubscribe function removes the listener and is safe to call more than
// once.
func (s *Store) Subscribe(path string, onChange func(models.BroadcastBalance)) (func(), error) {
	if onChange == nil {
		return nil, &store.ValidationError{Field: "onChange", Detail: "must not be nil"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: broadcast store closed", store.ErrStorageUnavailable)
	}
	s.nextSubId++
	id := s.nextSubId
	s.subscribers[path] = append(s.subscribers[path], subscriber{id: id, onChange: onChange})
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subscribers[path]
			for i, sub := range subs {
				if sub.id == id {
					s.subscribers[path] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(s.subscribers[path]) == 0 {
				delete(s.subscribers, path)
			}
		})
	}
	return unsubscribe, nil
}

// SubscriberCount reports the number of active listeners for a path.
func (s *Store) SubscriberCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[path])
}

// Close drops all values and subscribers. Subsequent operations fail.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.values = make(map[string]models.BroadcastBalance)
	s.subscribers = make(map[string][]subscriber)
	zap.L().Info("Broadcast store closed")
}

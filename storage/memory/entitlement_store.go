package memorystore

import (
	"context"
	"sync"
	"time"
)

// EntitlementStore is an in-memory implementation of entitlement.Store
// with per-key TTL. It is a single-node fallback for development and
// tests; production deployments use the redis or postgres store.
type EntitlementStore struct {
	mu     sync.Mutex
	data   map[string]item
	closed chan struct{}
	now    func() time.Time
}

type item struct {
	v   string
	exp time.Time // zero means no expiry
}

// NewEntitlementStore creates the store and starts a background goroutine
// that removes expired entries every minute.
func NewEntitlementStore() *EntitlementStore {
	s := &EntitlementStore{
		data:   make(map[string]item),
		closed: make(chan struct{}),
		now:    time.Now,
	}
	go s.cleanupLoop()
	return s
}

func (s *EntitlementStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it := item{v: value}
	if ttl > 0 {
		it.exp = s.now().Add(ttl)
	}
	s.data[key] = it
	return nil
}

func (s *EntitlementStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	if !it.exp.IsZero() && s.now().After(it.exp) {
		delete(s.data, key)
		return "", false, nil
	}
	return it.v, true, nil
}

// cleanupLoop runs in the background and removes expired entries every minute.
func (s *EntitlementStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *EntitlementStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.data {
		if !v.exp.IsZero() && now.After(v.exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (s *EntitlementStore) Close() error {
	close(s.closed)
	return nil
}

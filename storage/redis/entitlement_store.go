package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntitlementStore implements entitlement.Store on a Redis instance. The
// access keys already carry their own namespace (access:<plan>:<hash>), so
// no additional prefix is applied.
type EntitlementStore struct {
	rdb *redis.Client
}

func NewEntitlementStore(rdb *redis.Client) *EntitlementStore {
	return &EntitlementStore{rdb: rdb}
}

// Put writes a value; ttl <= 0 persists it until overwritten.
func (s *EntitlementStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *EntitlementStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

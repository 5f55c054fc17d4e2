package backoff

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scour:backoff:"

// RedisStore shares backoff state across machines. Each backend gets its
// own key with a TTL matching the cooldown window, so stale entries expire
// server-side without a sweeper.
type RedisStore struct {
	client   *redis.Client
	cooldown time.Duration
}

// NewRedisStore creates a redis-backed store. cooldown bounds the TTL put
// on each entry.
func NewRedisStore(client *redis.Client, cooldown time.Duration) *RedisStore {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisStore{client: client, cooldown: cooldown}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("get backoff entry %s: %w", key, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries[strings.TrimPrefix(key, redisKeyPrefix)] = e
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan backoff entries: %w", err)
	}
	return entries, nil
}

func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry) error {
	for name, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal backoff entry %s: %w", name, err)
		}
		ttl := time.Duration(float64(s.cooldown)*e.Multiplier) + time.Minute
		if err := s.client.Set(ctx, redisKeyPrefix+name, data, ttl).Err(); err != nil {
			return fmt.Errorf("set backoff entry %s: %w", name, err)
		}
	}
	return nil
}

// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"modelrelay/platform/gateway/llm"
)

// keyPrefix namespaces gateway cache entries so Purge never touches
// unrelated keys on a shared Redis instance.
const keyPrefix = "mrelay:cache:"

// RedisStore is a Redis-backed cache store for multi-instance gateway
// deployments. Redis failures degrade to cache misses; the gateway keeps
// serving from providers when Redis is down.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisStore creates a Redis-backed store. Non-positive ttl falls back
// to the default.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[RESPONSE_CACHE] ", log.LstdFlags),
	}
}

// Name identifies the backend in stats output.
func (s *RedisStore) Name() string {
	return "redis"
}

// Get returns the entry for key if present. Any Redis or decode error is
// a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*llm.GenerateResponse, bool) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Printf("redis get failed, treating as miss: %v", err)
		}
		return nil, false
	}

	var resp llm.GenerateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Printf("failed to decode cached entry, treating as miss: %v", err)
		return nil, false
	}
	return &resp, true
}

// Put stores an entry with the configured TTL. Write failures are logged
// and dropped.
func (s *RedisStore) Put(ctx context.Context, key string, resp *llm.GenerateResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("failed to encode entry for caching: %v", err)
		return
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		s.logger.Printf("redis set failed, entry not cached: %v", err)
	}
}

// Purge deletes every key under the cache prefix using SCAN so a large
// cache does not block Redis the way KEYS would.
func (s *RedisStore) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Len counts resident entries via SCAN. Failures report zero.
func (s *RedisStore) Len(ctx context.Context) int {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

var _ Store = (*RedisStore)(nil)

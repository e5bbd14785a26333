// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by Redis.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	redis.Scripter
	Close() error
}

// RedisConfig configures a Redis cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix is prepended to every key, e.g. "fieldops:".
	Prefix string
	// TTL of 0 stores keys without expiry.
	TTL time.Duration
}

// Redis is a cache shared by every edge replica.
//
// Every invalidation bumps a generation counter stored next to the
// entries. Loader reads the generation before a load and writes the result
// back only if it is unchanged, so a replica that loaded before another
// replica's mutation can not restore the stale view. Writes through Set
// are unconditional.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("viewcache: redis ping %s failed: %w", cfg.Address, err)
	}
	return NewRedisWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client RedisClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("viewcache: redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, val, r.ttl).Err(); err != nil {
		return fmt.Errorf("viewcache: redis set %s: %w", key, err)
	}
	return nil
}

// generationKey sits outside every resource prefix.
func (r *Redis) generationKey() string {
	return r.prefix + "_generation"
}

func (r *Redis) bump(ctx context.Context) error {
	if err := r.client.Incr(ctx, r.generationKey()).Err(); err != nil {
		return fmt.Errorf("viewcache: redis incr generation: %w", err)
	}
	return nil
}

// Generation returns the current invalidation generation, 0 before the
// first invalidation.
func (r *Redis) Generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, r.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("viewcache: redis get generation: %w", err)
	}
	return gen, nil
}

var setIfGeneration = redis.NewScript(`
local g = redis.call('GET', KEYS[1])
if (g or '0') ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// SetIfGeneration stores val under key only while the generation is still
// gen. It reports whether the value was stored.
func (r *Redis) SetIfGeneration(ctx context.Context, gen int64, key string, val []byte) (bool, error) {
	n, err := setIfGeneration.Run(ctx, r.client,
		[]string{r.generationKey(), r.prefix + key},
		strconv.FormatInt(gen, 10), val, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("viewcache: redis conditional set %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.bump(ctx); err != nil {
		return err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("viewcache: redis del: %w", err)
	}
	return nil
}

// InvalidatePrefix deletes every key matching prefix using SCAN, so it
// never blocks the server the way KEYS would.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	if err := r.bump(ctx); err != nil {
		return err
	}
	match := globEscape(r.prefix+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return fmt.Errorf("viewcache: redis scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("viewcache: redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

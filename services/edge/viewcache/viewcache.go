// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewcache holds short-lived copies of read results so that
// repeated list and detail views do not hit the data source every time.
//
// # Description
//
// Entries are opaque bytes under string keys:
//
//	<resource>:list    the GetAll result of a resource
//	<resource>:<id>    the GetByID result of one record
//
// Mutations call Invalidate with every key that could hold a stale copy
// before reporting success. Two backends exist: Memory (per process) and
// Redis (shared between replicas). Loader adds read-through loading with
// request coalescing on top of either.
package viewcache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key holds no live entry.
var ErrMiss = errors.New("cache miss")

// Cache is a byte cache with explicit invalidation.
type Cache interface {
	// Get returns the value of key or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores val under key with the backend's TTL.
	Set(ctx context.Context, key string, val []byte) error

	// Invalidate removes keys. Missing keys are not an error.
	Invalidate(ctx context.Context, keys ...string) error

	// InvalidatePrefix removes every key starting with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Generational is implemented by caches shared between processes. Loader
// uses it to drop write-backs that raced an invalidation made by another
// process.
type Generational interface {
	// Generation returns a counter that changes on every invalidation.
	Generation(ctx context.Context) (int64, error)

	// SetIfGeneration stores val only while the counter still equals gen.
	SetIfGeneration(ctx context.Context, gen int64, key string, val []byte) (bool, error)
}

// ListKey is the key of a resource's list view.
func ListKey(resource string) string {
	return resource + ":list"
}

// ItemKey is the key of one record's detail view.
func ItemKey(resource, id string) string {
	return resource + ":" + id
}

// ResourcePrefix matches every key of resource.
func ResourcePrefix(resource string) string {
	return resource + ":"
}

// ScopedKey narrows key to one caller scope. An empty scope leaves key
// unchanged. Scoped keys still match ResourcePrefix.
func ScopedKey(key, scope string) string {
	if scope == "" {
		return key
	}
	return key + "@" + scope
}

// DefaultLoadTimeout bounds one shared load when NewLoader is used.
const DefaultLoadTimeout = 30 * time.Second

// =============================================================================
// Read-through Loader
// =============================================================================

// Loader wraps a Cache with read-through loading.
//
// # Description
//
// Concurrent Loads of one key share a single call to the load function.
// The shared call runs detached from any one caller's cancellation and is
// bounded by the load timeout instead; each caller stops waiting when its
// own context ends. A load that started before an Invalidate never writes
// its result back, and callers arriving after an Invalidate never join it.
//
// # Thread Safety
//
// Safe for concurrent use.
type Loader struct {
	cache   Cache
	group   singleflight.Group
	epoch   atomic.Uint64
	timeout time.Duration
	metrics *observability.Metrics
}

// NewLoader wraps c. m may be nil.
func NewLoader(c Cache, m *observability.Metrics) *Loader {
	return NewLoaderWithTimeout(c, m, DefaultLoadTimeout)
}

// NewLoaderWithTimeout is NewLoader with an explicit bound on shared loads.
// A non-positive timeout selects DefaultLoadTimeout.
func NewLoaderWithTimeout(c Cache, m *observability.Metrics, timeout time.Duration) *Loader {
	if c == nil {
		c = Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &Loader{cache: c, timeout: timeout, metrics: m}
}

// Cache returns the wrapped cache.
func (l *Loader) Cache() Cache {
	return l.cache
}

// Load returns the cached value of key, or calls fn and caches its result.
// Errors from fn are returned and never cached. Cache backend errors are
// treated as misses.
//
// fn receives a context that carries the values of the first caller's ctx
// but not its deadline or cancellation. Keys must therefore identify
// everything fn reads from ctx, credentials included (see ScopedKey).
func (l *Loader) Load(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, err := l.cache.Get(ctx, key); err == nil {
		l.metrics.RecordCache(observability.CacheHit, 1)
		return val, nil
	}
	l.metrics.RecordCache(observability.CacheMiss, 1)

	start := l.epoch.Load()
	flight := strconv.FormatUint(start, 10) + "|" + key
	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(flight, func() (any, error) {
		lctx, cancel := context.WithTimeout(detached, l.timeout)
		defer cancel()
		gc, versioned := l.cache.(Generational)
		var gen int64
		var genErr error
		if versioned {
			gen, genErr = gc.Generation(lctx)
		}
		val, err := fn(lctx)
		if err != nil {
			return nil, err
		}
		switch {
		case l.epoch.Load() != start, genErr != nil:
		case versioned:
			_, _ = gc.SetIfGeneration(lctx, gen, key, val)
		default:
			_ = l.cache.Set(lctx, key, val)
		}
		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate removes keys from the cache and abandons in-flight loads.
func (l *Loader) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	l.epoch.Add(1)
	l.metrics.RecordCache(observability.CacheInvalidate, len(keys))
	return l.cache.Invalidate(ctx, keys...)
}

// InvalidatePrefix removes every key starting with prefix and abandons
// in-flight loads.
func (l *Loader) InvalidatePrefix(ctx context.Context, prefix string) error {
	l.epoch.Add(1)
	l.metrics.RecordCache(observability.CacheInvalidate, 1)
	return l.cache.InvalidatePrefix(ctx, prefix)
}

// =============================================================================
// Noop
// =============================================================================

// Noop caches nothing. Used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)    { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte) error      { return nil }
func (Noop) Invalidate(context.Context, ...string) error    { return nil }
func (Noop) InvalidatePrefix(context.Context, string) error { return nil }

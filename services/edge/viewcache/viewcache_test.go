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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "teams:list", ListKey("teams"))
	assert.Equal(t, "teams:7", ItemKey("teams", "7"))
	assert.Equal(t, "teams:list", ScopedKey("teams:list", ""))
	assert.Equal(t, "teams:list@ab12", ScopedKey("teams:list", "ab12"))
	assert.True(t, strings.HasPrefix(ScopedKey(ItemKey("teams", "7"), "ab12"), ResourcePrefix("teams")))
}

// =============================================================================
// Memory Tests
// =============================================================================

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, err := m.Get(ctx, "teams:list")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "teams:list", []byte(`[1]`)))
	got, err := m.Get(ctx, "teams:list")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))

	require.NoError(t, m.Invalidate(ctx, "teams:list", "never-set"))
	_, err = m.Get(ctx, "teams:list")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	now = now.Add(59 * time.Second)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_SweepOnSet(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory(time.Second)
	m.now = func() time.Time { return now }
	m.sweepAt = 2

	require.NoError(t, m.Set(ctx, "a", nil))
	require.NoError(t, m.Set(ctx, "b", nil))
	now = now.Add(2 * time.Second)
	require.NoError(t, m.Set(ctx, "c", nil))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

// =============================================================================
// Redis Tests
// =============================================================================

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, "fieldops:", time.Minute), mr
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	_, err := c.Get(ctx, "teams:list")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "teams:list", []byte(`[{"id":"1"}]`)))
	assert.True(t, mr.Exists("fieldops:teams:list"), "prefix applied")
	assert.Equal(t, time.Minute, mr.TTL("fieldops:teams:list"))

	got, err := c.Get(ctx, "teams:list")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(got))

	require.NoError(t, c.Invalidate(ctx, "teams:list", "teams:1"))
	assert.False(t, mr.Exists("fieldops:teams:list"))
	require.NoError(t, c.Invalidate(ctx))
}

func TestRedis_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_BackendErrors(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	mr.Close()

	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.Error(t, c.Set(ctx, "k", []byte("v")))
}

func TestNewRedis_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisConfig{Address: addr})
	assert.Error(t, err)
}

func TestNewRedis_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), RedisConfig{Address: mr.Addr(), Prefix: "p:"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "x", []byte("1")))
	assert.True(t, mr.Exists("p:x"))
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestLoader_ReadThrough(t *testing.T) {
	ctx := context.Background()
	m := observability.NewMetrics(prometheus.NewRegistry())
	l := NewLoader(NewMemory(time.Minute), m)

	var calls atomic.Int32
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v1"), nil
	}

	for i := 0; i < 3; i++ {
		got, err := l.Load(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got))
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheEventsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEventsTotal.WithLabelValues("miss")))

	require.NoError(t, l.Invalidate(ctx, "k"))
	_, err := l.Load(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(time.Minute), nil)
	boom := errors.New("backend down")

	_, err := l.Load(ctx, "k", func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, err := l.Load(ctx, "k", func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}

func TestLoader_CoalescesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(time.Minute), nil)

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.Load(ctx, "k", load)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(got))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_InvalidateDuringLoadDropsResult(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(time.Minute)
	l := NewLoader(mem, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Load(ctx, "teams:list", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("stale"), nil
		})
	}()

	<-started
	require.NoError(t, l.Invalidate(ctx, "teams:list"))
	close(release)
	<-done

	_, err := mem.Get(ctx, "teams:list")
	assert.ErrorIs(t, err, ErrMiss, "stale in-flight result must not be written back")
}

func TestLoader_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mem := NewMemory(time.Minute)
	l := NewLoader(mem, nil)

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(firstCtx, "k", load)
		firstErr <- err
	}()
	<-started

	type result struct {
		val []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		val, err := l.Load(context.Background(), "k", load)
		second <- result{val, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "v", string(got.val))

	cached, err := mem.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(cached))
}

func TestLoader_SharedLoadIsBounded(t *testing.T) {
	l := NewLoaderWithTimeout(NewMemory(time.Minute), nil, 10*time.Millisecond)

	_, err := l.Load(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_CallersAfterInvalidateStartFreshLoad(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemory(time.Minute), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Load(ctx, "teams:list", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("stale"), nil
		})
	}()
	<-started

	require.NoError(t, l.InvalidatePrefix(ctx, ResourcePrefix("teams")))
	got, err := l.Load(ctx, "teams:list", func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))

	close(release)
	<-done
}

func TestLoader_RedisRemoteInvalidateDropsWriteBack(t *testing.T) {
	ctx := context.Background()
	cacheA, mr := newTestRedis(t)
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { clientB.Close() })
	cacheB := NewRedisWithClient(clientB, "fieldops:", time.Minute)

	replicaA := NewLoader(cacheA, nil)
	replicaB := NewLoader(cacheB, nil)

	got, err := replicaA.Load(ctx, "teams:list", func(ctx context.Context) ([]byte, error) {
		assert.NoError(t, replicaB.InvalidatePrefix(ctx, ResourcePrefix("teams")))
		return []byte("stale"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", string(got), "the caller still gets its own read")
	assert.False(t, mr.Exists("fieldops:teams:list"), "stale view must not be restored across replicas")

	got, err = replicaA.Load(ctx, "teams:list", func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
	assert.True(t, mr.Exists("fieldops:teams:list"))
}

func TestRedis_SetIfGeneration(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	ok, err := c.SetIfGeneration(ctx, gen, "teams:1", []byte("v1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("fieldops:teams:1"))

	require.NoError(t, c.Invalidate(ctx, "teams:1"))
	next, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	ok, err = c.SetIfGeneration(ctx, gen, "teams:1", []byte("v1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("fieldops:teams:1"))

	require.NoError(t, c.InvalidatePrefix(ctx, ResourcePrefix("teams")))
	assert.True(t, mr.Exists("fieldops:_generation"), "generation survives prefix invalidation")
}

func TestNoop(t *testing.T) {
	l := NewLoader(nil, nil)
	_, ok := l.Cache().(Noop)
	assert.True(t, ok)

	var calls int
	for i := 0; i < 2; i++ {
		_, err := l.Load(context.Background(), "k", func(context.Context) ([]byte, error) {
			calls++
			return []byte("v"), nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	redisCache, _ := newTestRedis(t)

	backends := map[string]Cache{
		"memory": NewMemory(time.Minute),
		"redis":  redisCache,
	}
	for name, c := range backends {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"teams:list", "teams:1", "teams:2", "tasks:list"} {
				require.NoError(t, c.Set(ctx, k, []byte("v")))
			}

			require.NoError(t, NewLoader(c, nil).InvalidatePrefix(ctx, ResourcePrefix("teams")))

			for _, k := range []string{"teams:list", "teams:1", "teams:2"} {
				_, err := c.Get(ctx, k)
				assert.ErrorIs(t, err, ErrMiss, k)
			}
			_, err := c.Get(ctx, "tasks:list")
			assert.NoError(t, err)
		})
	}
}

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, globEscape("a*b?c[d]"))
}

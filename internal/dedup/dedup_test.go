package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryMarkIfNew(t *testing.T) {
	t.Parallel()

	set := NewMemory()
	ok, err := set.MarkIfNew(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = set.MarkIfNew(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, set.Len())
}

func TestMemoryConcurrentAdmitsOnce(t *testing.T) {
	t.Parallel()

	set := NewMemory()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if ok, _ := set.MarkIfNew(context.Background(), fmt.Sprintf("k%d", j)); ok {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 50, admitted.Load())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisMarkIfNew(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	set, err := NewRedis(client, RedisConfig{RunID: "run-1", TTL: time.Minute})
	require.NoError(t, err)

	ok, err := set.MarkIfNew(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = set.MarkIfNew(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.False(t, ok)

	key := "research:seen:run-1:https://a.example/"
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	ok, err = set.MarkIfNew(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisIsolatesRuns(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)
	first, err := NewRedis(client, RedisConfig{RunID: "a"})
	require.NoError(t, err)
	second, err := NewRedis(client, RedisConfig{RunID: "b"})
	require.NoError(t, err)

	ok, err := first.MarkIfNew(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = second.MarkIfNew(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(nil, RedisConfig{RunID: "a"})
	require.Error(t, err)

	mr, client := newRedis(t)
	_, err = NewRedis(client, RedisConfig{})
	require.ErrorContains(t, err, "run id")

	set, err := NewRedis(client, RedisConfig{RunID: "a"})
	require.NoError(t, err)
	mr.Close()
	_, err = set.MarkIfNew(context.Background(), "k")
	require.ErrorContains(t, err, "mark seen")
}

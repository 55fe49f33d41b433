package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"wex-mcp-api/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(WithCacheClock(clock.Now))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	got[0] = 'x'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("v"), again, "callers get a copy")

	clock.Advance(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheGetOrSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrSet(ctx, "k", time.Minute, fn)
		require.NoError(t, err)
		assert.Equal(t, "computed", string(v))
	}
	assert.Equal(t, 1, calls)

	_, err := c.GetOrSet(ctx, "bad", time.Minute, func() ([]byte, error) { return nil, errors.New("boom") })
	assert.Error(t, err)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Set(ctx, "other", []byte("1"), time.Minute))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

// redisClient connects to WEX_TEST_REDIS_ADDR or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("WEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WEX_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisCache(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	c := NewRedisCacheWithClient(client, "wex:test:"+t.Name())
	defer c.Close()
	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, c.Clear(ctx))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisDocumentBufferFlush(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	var mu sync.Mutex
	var flushed []*model.BufferedDocument
	flush := func(ctx context.Context, docs []*model.BufferedDocument) error {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, docs...)
		return nil
	}

	b := newRedisDocumentBuffer(client, RedisBufferConfig{
		FlushInterval: time.Hour,
		KeyPrefix:     "wex:test:" + t.Name(),
	}, flush)
	defer b.Close()
	client.Del(ctx, b.bufferKey(), b.pendingKey())

	key := model.ProfileKey("acc", model.ProfileMain)
	require.NoError(t, b.Add(ctx, key, []byte(`{"rvn":1}`)))
	require.NoError(t, b.Add(ctx, key, []byte(`{"rvn":2}`)))
	require.NoError(t, b.Add(ctx, model.FriendGraphKey("acc"), []byte(`{}`)))

	doc, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"rvn":2}`, string(doc.RawJSON))

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, b.Flush(ctx))
	mu.Lock()
	assert.Len(t, flushed, 2)
	mu.Unlock()

	count, err = b.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
	doc, err = b.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestRedisDocumentBufferKeepsFailedFlush(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	b := newRedisDocumentBuffer(client, RedisBufferConfig{
		FlushInterval: time.Hour,
		KeyPrefix:     "wex:test:" + t.Name(),
	}, func(context.Context, []*model.BufferedDocument) error { return errors.New("db down") })
	defer func() {
		client.Del(ctx, b.bufferKey(), b.pendingKey())
		b.Close()
	}()
	client.Del(ctx, b.bufferKey(), b.pendingKey())

	require.NoError(t, b.Add(ctx, model.FriendGraphKey("acc"), []byte(`{}`)))
	_, err := b.FlushBatch(ctx)
	assert.Error(t, err)

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

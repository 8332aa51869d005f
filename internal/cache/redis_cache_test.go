package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func setupTestRedis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}

	redisCache, err := cache.NewRedisCache(mr.Addr(), "", "settings:")
	if err != nil {
		t.Fatalf("failed to create Redis cache: %v", err)
	}

	return redisCache, mr
}

func TestNewRedisCache(t *testing.T) {
	redisCache, mr := setupTestRedis(t)
	defer mr.Close()
	defer redisCache.Close()

	assert.NotNil(t, redisCache)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = cache.NewRedisCache(addr, "", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestGet(t *testing.T) {
	redisCache, mr := setupTestRedis(t)
	defer mr.Close()
	defer redisCache.Close()

	ctx := context.Background()

	_, err := redisCache.Get(ctx, "non_existent_key")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	err = redisCache.Set(ctx, "log_timezone", "3", time.Minute)
	assert.NoError(t, err)

	value, err := redisCache.Get(ctx, "log_timezone")
	assert.NoError(t, err)
	assert.Equal(t, "3", value)

	stored, err := mr.Get("settings:log_timezone")
	assert.NoError(t, err)
	assert.Equal(t, "3", stored)
}

func TestSet(t *testing.T) {
	redisCache, mr := setupTestRedis(t)
	defer mr.Close()
	defer redisCache.Close()

	ctx := context.Background()

	err := redisCache.Set(ctx, "log_file_settings", `{"max_files":2}`, time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("settings:log_file_settings"))

	mr.FastForward(2 * time.Minute)
	_, err = redisCache.Get(ctx, "log_file_settings")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	err = redisCache.Set(ctx, "no_expiration_key", "{}", 0)
	assert.NoError(t, err)

	value, err := redisCache.Get(ctx, "no_expiration_key")
	assert.NoError(t, err)
	assert.Equal(t, "{}", value)
}

func TestDelete(t *testing.T) {
	redisCache, mr := setupTestRedis(t)
	defer mr.Close()
	defer redisCache.Close()

	ctx := context.Background()

	err := redisCache.Set(ctx, "test_key", "value", time.Minute)
	assert.NoError(t, err)

	err = redisCache.Delete(ctx, "test_key")
	assert.NoError(t, err)

	_, err = redisCache.Get(ctx, "test_key")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	err = redisCache.Delete(ctx, "non_existent_key")
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	redisCache, mr := setupTestRedis(t)
	defer mr.Close()

	err := redisCache.Close()
	assert.NoError(t, err)

	ctx := context.Background()
	_, err = redisCache.Get(ctx, "test_key")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrCacheMiss)
}

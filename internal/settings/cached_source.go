package settings

import (
	"context"
	"errors"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/cache"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedSource serves keys from the cache and asks the wrapped source only
// for the misses. A failing cache never fails a fetch.
type CachedSource struct {
	source Source
	cache  cache.Cache
	ttl    time.Duration
}

func NewCachedSource(source Source, c cache.Cache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{source: source, cache: c, ttl: ttl}
}

func (s *CachedSource) Fetch(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	var misses []string
	for _, key := range keys {
		value, err := s.cache.Get(ctx, key)
		if err == nil {
			out[key] = value
			continue
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warnf("settings cache read failed for %s: %v", key, err)
		}
		misses = append(misses, key)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.source.Fetch(ctx, misses...)
	if err != nil {
		return nil, err
	}
	for key, value := range fetched {
		out[key] = value
		if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
			logger.Warnf("settings cache write failed for %s: %v", key, err)
		}
	}
	return out, nil
}

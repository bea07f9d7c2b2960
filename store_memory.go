package cachecompress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/goforj/cachecompress/cachecore"
)

type memoryStore struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
	mu         sync.Mutex
}

func newMemoryStore(defaultTTL, cleanupInterval time.Duration) *memoryStore {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

// expiration maps the store ttl convention onto go-cache's, whose
// NoExpiration is also -1.
func (s *memoryStore) expiration(ttl time.Duration) time.Duration {
	ttl = cachecore.EffectiveTTL(ttl, s.defaultTTL)
	if ttl < 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStore) GetMany(_ context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if item, ok := s.cache.Get(key); ok {
			if body, ok := item.([]byte); ok {
				out[key] = cloneBytes(body)
			}
		}
	}
	return out, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.Set(key, cloneBytes(value), s.expiration(ttl))
	return nil
}

func (s *memoryStore) SetMany(_ context.Context, values map[string][]byte, ttl time.Duration) error {
	exp := s.expiration(ttl)
	for key, value := range values {
		s.cache.Set(key, cloneBytes(value), exp)
	}
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.cache.Add(key, cloneBytes(value), s.expiration(ttl)); err != nil {
		// go-cache only fails Add when the key is live
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readInt64(key)
	if err != nil {
		return 0, err
	}
	next := current + delta
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), s.expiration(ttl))
	return next, nil
}

func (s *memoryStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) DeleteMany(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Flush()
	return nil
}

var errNotNumeric = errors.New("value is not an integer")

func (s *memoryStore) readInt64(key string) (int64, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return 0, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return 0, fmt.Errorf("cache key %q: %w", key, errNotNumeric)
	}
	return parseCounter(key, body)
}

// parseCounter reads the decimal form every store uses for counters.
func parseCounter(key string, body []byte) (int64, error) {
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache key %q: %w", key, errNotNumeric)
	}
	return n, nil
}

package cachecompress

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/goforj/cachecompress/cachecore"
)

var errRistrettoRejected = errors.New("ristretto rejected cache entry")

// ristrettoStore is a bounded in-process store. Admission may reject writes
// under pressure; those surface as errors instead of silent drops.
type ristrettoStore struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
	// mu covers read-modify-write paths (Add, Increment).
	mu sync.Mutex
}

func newRistrettoStore(defaultTTL time.Duration, maxCost int64) (*ristrettoStore, error) {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if maxCost <= 0 {
		maxCost = defaultRistrettoMaxCost
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// ten counters per expected item, assuming ~1KiB values
		NumCounters: max(maxCost/1024*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoStore{cache: c, defaultTTL: defaultTTL}, nil
}

// expiration maps forever onto ristretto's zero ttl.
func (s *ristrettoStore) expiration(ttl time.Duration) time.Duration {
	ttl = cachecore.EffectiveTTL(ttl, s.defaultTTL)
	if ttl < 0 {
		return 0
	}
	return ttl
}

func (s *ristrettoStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, _ := v.([]byte)
	if body == nil {
		s.cache.Del(key)
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *ristrettoStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.set(key, value, ttl)
}

func (s *ristrettoStore) set(key string, value []byte, ttl time.Duration) error {
	body := cloneBytes(value)
	if !s.cache.SetWithTTL(key, body, int64(len(body))+1, s.expiration(ttl)) {
		return errRistrettoRejected
	}
	// make the write visible to the next Get
	s.cache.Wait()
	return nil
}

func (s *ristrettoStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, _ := s.Get(ctx, key); ok {
		return false, nil
	}
	if err := s.set(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ristrettoStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := int64(0)
	if body, ok, _ := s.Get(ctx, key); ok {
		n, err := parseCounter(key, body)
		if err != nil {
			return 0, err
		}
		current = n
	}
	next := current + delta
	if err := s.set(key, []byte(strconv.FormatInt(next, 10)), ttl); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *ristrettoStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *ristrettoStore) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	return nil
}

func (s *ristrettoStore) DeleteMany(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Del(key)
	}
	return nil
}

func (s *ristrettoStore) Flush(_ context.Context) error {
	s.cache.Clear()
	return nil
}

package cachecompress

import (
	"context"
	"sync"
	"time"

	"github.com/goforj/cachecompress/cachecore"
)

type memoEntry struct {
	body []byte
	ok   bool
}

// NewMemoStore decorates store with per-process read memoization. Reads are
// served from memory until this process writes or deletes the key. The
// decorated store keeps the inner store's driver, so envelope selection is
// unchanged.
func NewMemoStore(store Store) Store {
	return &memoStore{
		store: store,
		items: make(map[string]memoEntry),
	}
}

type memoStore struct {
	store Store
	mu    sync.RWMutex
	items map[string]memoEntry
}

// Driver reports the wrapped store's driver.
func (s *memoStore) Driver() Driver {
	return ResolveDriver(s.store)
}

func (s *memoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return cloneBytes(entry.body), entry.ok, nil
	}

	body, exists, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.items[key] = memoEntry{body: cloneBytes(body), ok: exists}
	s.mu.Unlock()

	return cloneBytes(body), exists, nil
}

// GetMany serves memoized keys locally and fetches the rest in one batch when
// the inner store supports it.
func (s *memoStore) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	missing := make([]string, 0, len(keys))
	s.mu.RLock()
	for _, key := range keys {
		if entry, ok := s.items[key]; ok {
			if entry.ok {
				out[key] = cloneBytes(entry.body)
			}
			continue
		}
		missing = append(missing, key)
	}
	s.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, key := range missing {
		body, ok := fetched[key]
		s.items[key] = memoEntry{body: cloneBytes(body), ok: ok}
		if ok {
			out[key] = cloneBytes(body)
		}
	}
	s.mu.Unlock()
	return out, nil
}

func (s *memoStore) fetch(ctx context.Context, keys []string) (map[string][]byte, error) {
	if getter, ok := s.store.(cachecore.ManyGetter); ok {
		return getter.GetMany(ctx, keys...)
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		body, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = body
		}
	}
	return out, nil
}

func (s *memoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.store.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	s.forget(key)
	return nil
}

func (s *memoStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	created, err := s.store.Add(ctx, key, value, ttl)
	if err != nil {
		return false, err
	}
	if created {
		s.forget(key)
	}
	return created, nil
}

func (s *memoStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := s.store.Increment(ctx, key, delta, ttl)
	if err != nil {
		return 0, err
	}
	s.forget(key)
	return value, nil
}

func (s *memoStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := s.store.Decrement(ctx, key, delta, ttl)
	if err != nil {
		return 0, err
	}
	s.forget(key)
	return value, nil
}

func (s *memoStore) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.forget(key)
	return nil
}

func (s *memoStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.store.DeleteMany(ctx, keys...); err != nil {
		return err
	}
	s.mu.Lock()
	for _, key := range keys {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *memoStore) Flush(ctx context.Context) error {
	if err := s.store.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = make(map[string]memoEntry)
	s.mu.Unlock()
	return nil
}

func (s *memoStore) forget(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}

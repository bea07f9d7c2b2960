package cachecompress

import (
	"context"
	"fmt"
	"sync"
)

// StoreFactory builds a store from a fully defaulted StoreConfig.
type StoreFactory func(ctx context.Context, cfg StoreConfig) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[Driver]StoreFactory{}
)

// RegisterDriver makes a driver available to NewStore. Driver packages call it
// from init; registering a name twice replaces the earlier factory.
func RegisterDriver(driver Driver, factory StoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		delete(factories, driver)
		return
	}
	factories[driver] = factory
}

// NewStore returns a concrete store for the requested driver.
// Unknown drivers fail with ErrUnsupportedDriver.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	cfg = cfg.withDefaults()
	factoriesMu.RLock()
	factory, ok := factories[cfg.Driver]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cachecompress: build %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

// NewStoreWith builds a store using a driver and a set of functional options.
func NewStoreWith(ctx context.Context, driver Driver, opts ...StoreOption) (Store, error) {
	cfg := StoreConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewStore(ctx, cfg)
}

// NewMemoryStore is a convenience for an in-process store with optional overrides.
func NewMemoryStore(ctx context.Context, opts ...StoreOption) Store {
	store, err := NewStoreWith(ctx, DriverMemory, opts...)
	if err != nil {
		// the memory factory cannot fail
		panic(err)
	}
	return store
}

// NewRedisStore is a convenience for a redis-backed store. Redis client is required.
func NewRedisStore(ctx context.Context, client RedisClient, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverRedis, append([]StoreOption{WithRedisClient(client)}, opts...)...)
}

// NewFileStore is a convenience for a filesystem-backed store.
func NewFileStore(ctx context.Context, dir string, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverFile, append([]StoreOption{WithFileDir(dir)}, opts...)...)
}

// NewMemcachedStore is a convenience for a memcached-backed store.
func NewMemcachedStore(ctx context.Context, addrs []string, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverMemcached, append([]StoreOption{WithMemcachedAddresses(addrs...)}, opts...)...)
}

// NewRepositoryFor builds the store for cfg and wraps it in a Repository.
func NewRepositoryFor(ctx context.Context, cfg StoreConfig, opts ...RepositoryOption) (*Repository, error) {
	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRepository(store, opts...), nil
}

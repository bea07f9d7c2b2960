package cachecompress

import (
	"context"
	"errors"

	"github.com/goforj/cachecompress/cachecore"
)

// Store is the byte-level cache contract.
type Store = cachecore.Store

// Driver identifies cache backend.
type Driver = cachecore.Driver

const (
	DriverNull      = cachecore.DriverNull
	DriverFile      = cachecore.DriverFile
	DriverMemory    = cachecore.DriverMemory
	DriverMemcached = cachecore.DriverMemcached
	DriverDynamo    = cachecore.DriverDynamo
	DriverSQL       = cachecore.DriverSQL
	DriverRedis     = cachecore.DriverRedis
	DriverNATS      = cachecore.DriverNATS
	DriverRistretto = cachecore.DriverRistretto
	DriverMongo     = cachecore.DriverMongo
)

// NoExpiration stores an entry without expiry.
const NoExpiration = cachecore.NoExpiration

func init() {
	RegisterStoreType(&nullStore{}, DriverNull)
	RegisterStoreType(&memoryStore{}, DriverMemory)
	RegisterStoreType(&fileStore{}, DriverFile)
	RegisterStoreType(&redisStore{}, DriverRedis)
	RegisterStoreType(&memcachedStore{}, DriverMemcached)
	RegisterStoreType(&dynamoStore{}, DriverDynamo)
	RegisterStoreType(&sqlStore{}, DriverSQL)
	RegisterStoreType(&natsStore{}, DriverNATS)
	RegisterStoreType(&ristrettoStore{}, DriverRistretto)

	RegisterDriver(DriverNull, func(context.Context, StoreConfig) (Store, error) {
		return newNullStore(), nil
	})
	RegisterDriver(DriverMemory, func(_ context.Context, cfg StoreConfig) (Store, error) {
		return newMemoryStore(cfg.DefaultTTL, cfg.MemoryCleanupInterval), nil
	})
	RegisterDriver(DriverFile, func(_ context.Context, cfg StoreConfig) (Store, error) {
		return newFileStore(cfg.FileDir, cfg.DefaultTTL)
	})
	RegisterDriver(DriverRedis, func(_ context.Context, cfg StoreConfig) (Store, error) {
		if cfg.RedisClient == nil {
			return nil, errors.New("redis driver requires a client")
		}
		return newRedisStore(cfg.RedisClient, cfg.DefaultTTL, cfg.Prefix), nil
	})
	RegisterDriver(DriverMemcached, func(_ context.Context, cfg StoreConfig) (Store, error) {
		return newMemcachedStore(cfg.MemcachedAddresses, cfg.DefaultTTL, cfg.Prefix), nil
	})
	RegisterDriver(DriverDynamo, newDynamoStore)
	RegisterDriver(DriverSQL, func(ctx context.Context, cfg StoreConfig) (Store, error) {
		return newSQLStore(ctx, cfg)
	})
	RegisterDriver(DriverNATS, func(_ context.Context, cfg StoreConfig) (Store, error) {
		if cfg.NATSKeyValue == nil {
			return nil, errors.New("nats driver requires a key-value bucket")
		}
		return newNATSStore(cfg.NATSKeyValue, cfg.DefaultTTL, cfg.Prefix, cfg.NATSBucketTTL), nil
	})
	RegisterDriver(DriverRistretto, func(_ context.Context, cfg StoreConfig) (Store, error) {
		return newRistrettoStore(cfg.DefaultTTL, cfg.RistrettoMaxCost)
	})
}

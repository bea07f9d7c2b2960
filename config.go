package cachecompress

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/goforj/cachecompress/cachecore"
)

const (
	defaultCachePrefix           = "app"
	defaultCacheTTL              = 5 * time.Minute
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "cache_entries"
	defaultDynamoTable           = "cache_entries"
	defaultDynamoRegion          = "us-east-1"
	defaultRistrettoMaxCost      = 64 << 20
)

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "cache-compress")
}

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	cachecore.BaseConfig

	Driver Driver

	// MemoryCleanupInterval controls in-process cache eviction.
	MemoryCleanupInterval time.Duration

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// FileDir controls where file driver stores cache entries.
	FileDir string

	// MemcachedAddresses lists host:port pairs for DriverMemcached.
	MemcachedAddresses []string

	// DynamoClient is used as-is when set; otherwise one is built from region/endpoint.
	DynamoClient   DynamoAPI
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string

	// SQLDriverName is a database/sql driver name: mysql, pgx or sqlite.
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue
	// NATSBucketTTL delegates expiry to the bucket's own TTL.
	NATSBucketTTL bool

	// RistrettoMaxCost bounds the ristretto cache size in bytes.
	RistrettoMaxCost int64

	// DriverOptions carries settings for drivers registered outside this package.
	DriverOptions any
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultCacheTTL
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultCachePrefix
	}
	if c.FileDir == "" {
		c.FileDir = defaultFileDir()
	}
	if len(c.MemcachedAddresses) == 0 {
		c.MemcachedAddresses = []string{"127.0.0.1:11211"}
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.RistrettoMaxCost <= 0 {
		c.RistrettoMaxCost = defaultRistrettoMaxCost
	}
	return c
}

// RepositoryConfig controls how a Repository encodes values and reports activity.
type RepositoryConfig struct {
	// Defaults supplies global compression settings; read on every operation.
	Defaults DefaultsSource
	// Codec serializes values. JSONCodec when nil.
	Codec Codec
	// Driver skips driver resolution when set.
	Driver   Driver
	Listener Listener
	Observer Observer
	Logger   *zap.Logger
	// MaxInflatedBytes caps a single inflated value.
	MaxInflatedBytes int64

	// locks is shared by repositories over the same store so Pull stays exclusive across them.
	locks *keyLocks
}

func (c RepositoryConfig) withDefaults() RepositoryConfig {
	if c.Defaults == nil {
		c.Defaults = StaticDefaults(cachecore.DefaultSettings())
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.MaxInflatedBytes <= 0 {
		c.MaxInflatedBytes = DefaultMaxInflatedBytes
	}
	return c
}

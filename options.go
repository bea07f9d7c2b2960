package cachecompress

import (
	"time"

	"go.uber.org/zap"
)

// StoreOption mutates StoreConfig when constructing a store.
type StoreOption func(StoreConfig) StoreConfig

// WithDefaultTTL overrides the TTL used when a call passes ttl == 0.
func WithDefaultTTL(ttl time.Duration) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DefaultTTL = ttl
		return cfg
	}
}

// WithMemoryCleanupInterval overrides the sweep interval for the memory driver.
func WithMemoryCleanupInterval(interval time.Duration) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.MemoryCleanupInterval = interval
		return cfg
	}
}

// WithPrefix sets the key prefix for shared backends (e.g., redis).
func WithPrefix(prefix string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithRedisClient sets the redis client; required when using DriverRedis.
func WithRedisClient(client RedisClient) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.RedisClient = client
		return cfg
	}
}

// WithFileDir sets the directory used by the file driver.
func WithFileDir(dir string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.FileDir = dir
		return cfg
	}
}

// WithMemcachedAddresses sets memcached servers.
func WithMemcachedAddresses(addrs ...string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.MemcachedAddresses = addrs
		return cfg
	}
}

// WithDynamoClient injects a DynamoDB client.
func WithDynamoClient(client DynamoAPI) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithDynamoTable sets the DynamoDB table name.
func WithDynamoTable(table string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DynamoTable = table
		return cfg
	}
}

// WithSQL configures the database driver.
func WithSQL(driverName, dsn, table string) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.SQLDriverName = driverName
		cfg.SQLDSN = dsn
		cfg.SQLTable = table
		return cfg
	}
}

// WithNATSKeyValue sets the JetStream key-value bucket.
func WithNATSKeyValue(kv NATSKeyValue) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithNATSBucketTTL lets the bucket handle expiry instead of per-entry envelopes.
func WithNATSBucketTTL(enabled bool) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.NATSBucketTTL = enabled
		return cfg
	}
}

// WithRistrettoMaxCost bounds the ristretto cache in bytes.
func WithRistrettoMaxCost(maxCost int64) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.RistrettoMaxCost = maxCost
		return cfg
	}
}

// WithDriverOptions passes settings through to an externally registered driver.
func WithDriverOptions(opts any) StoreOption {
	return func(cfg StoreConfig) StoreConfig {
		cfg.DriverOptions = opts
		return cfg
	}
}

// RepositoryOption mutates RepositoryConfig when constructing a repository.
type RepositoryOption func(RepositoryConfig) RepositoryConfig

// WithDefaults sets the source of global compression defaults.
func WithDefaults(src DefaultsSource) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Defaults = src
		return cfg
	}
}

// WithCodec sets the value codec.
func WithCodec(codec Codec) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Codec = codec
		return cfg
	}
}

// WithDriver pins the driver name instead of resolving it from the store.
func WithDriver(driver Driver) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Driver = driver
		return cfg
	}
}

// WithListener receives cache hit, miss and write events.
func WithListener(l Listener) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Listener = l
		return cfg
	}
}

// WithObserver receives per-operation timing.
func WithObserver(o Observer) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Observer = o
		return cfg
	}
}

// WithLogger sets the logger used for decode fallbacks.
func WithLogger(logger *zap.Logger) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.Logger = logger
		return cfg
	}
}

// WithMaxInflatedBytes caps how large a single value may inflate to.
func WithMaxInflatedBytes(n int64) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.MaxInflatedBytes = n
		return cfg
	}
}

func withKeyLocks(locks *keyLocks) RepositoryOption {
	return func(cfg RepositoryConfig) RepositoryConfig {
		cfg.locks = locks
		return cfg
	}
}

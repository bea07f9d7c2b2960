package cachecore

import (
	"context"
	"time"
)

// NoExpiration marks an entry that never expires. Any negative ttl is treated the same way.
const NoExpiration time.Duration = -1

// Store is the byte-level cache contract every backend implements.
//
// ttl > 0 is an explicit lifetime, ttl == 0 selects the store's default TTL and
// ttl < 0 stores the entry without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}

// ManyGetter is implemented by stores that can fetch several keys in one round trip.
// Missing keys are absent from the returned map.
type ManyGetter interface {
	GetMany(ctx context.Context, keys ...string) (map[string][]byte, error)
}

// ManySetter is implemented by stores that can write several keys in one round trip.
type ManySetter interface {
	SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) error
}

// DriverReporter is implemented by stores that know their own driver name.
type DriverReporter interface {
	Driver() Driver
}

// EffectiveTTL maps the ttl convention onto a concrete duration.
// It returns def for ttl == 0 and NoExpiration for any negative ttl.
func EffectiveTTL(ttl, def time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return NoExpiration
	case ttl == 0:
		if def == 0 {
			return NoExpiration
		}
		return def
	default:
		return ttl
	}
}

// Forever reports whether ttl means "never expires".
func Forever(ttl time.Duration) bool { return ttl < 0 }

package cachecompress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goforj/cachecompress/cachecore"
)

// EventKind names a cache event.
type EventKind string

const (
	EventCacheHit    EventKind = "cache_hit"
	EventCacheMissed EventKind = "cache_missed"
	EventKeyWritten  EventKind = "key_written"
)

// Event describes something the repository observed. Hits carry the decoded
// Value; writes carry the Stored bytes exactly as the store received them.
type Event struct {
	Kind       EventKind
	Key        string
	Driver     cachecore.Driver
	Value      any
	Stored     []byte
	TTL        time.Duration
	TTLMinutes int64
	Forever    bool
}

// Listener receives cache events. Calls are synchronous and their outcome is ignored.
type Listener interface {
	OnCacheEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev Event)

// OnCacheEvent implements Listener.
func (f ListenerFunc) OnCacheEvent(ctx context.Context, ev Event) {
	if f == nil {
		return
	}
	f(ctx, ev)
}

// ttlMinutes rounds ttl up to whole minutes.
func ttlMinutes(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Minute - 1) / time.Minute)
}

// NewLogListener writes every event to logger at debug level.
func NewLogListener(logger *zap.Logger) Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ListenerFunc(func(_ context.Context, ev Event) {
		fields := []zap.Field{
			zap.String("event", string(ev.Kind)),
			zap.String("key", ev.Key),
			zap.String("driver", ev.Driver.String()),
		}
		if ev.Kind == EventKeyWritten {
			fields = append(fields,
				zap.Int("bytes", len(ev.Stored)),
				zap.Int64("ttl_minutes", ev.TTLMinutes),
				zap.Bool("forever", ev.Forever),
			)
		}
		logger.Debug("cache event", fields...)
	})
}

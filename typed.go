package cachecompress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goforj/cachecompress/cachecore"
)

// GetAs decodes the value for key into T. Bytes that cannot be decoded into T
// count as a miss, except that T = []byte receives them unchanged.
func GetAs[T any](ctx context.Context, r *Repository, key string) (T, bool, error) {
	start := time.Now()
	out, ok, err := getAs[T](ctx, r, key, r.settings.resolve(ctx))
	r.observe(ctx, "get", key, ok, err, start)
	return out, ok, err
}

// RememberAs is the typed form of Remember.
func RememberAs[T any](ctx context.Context, r *Repository, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, hit, err := rememberAs(ctx, r, key, ttl, fn)
	r.observe(ctx, "remember", key, hit, err, start)
	return out, err
}

// RememberForeverAs is the typed form of RememberForever.
func RememberForeverAs[T any](ctx context.Context, r *Repository, key string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, hit, err := rememberAs(ctx, r, key, cachecore.NoExpiration, fn)
	r.observe(ctx, "remember_forever", key, hit, err, start)
	return out, err
}

func rememberAs[T any](ctx context.Context, r *Repository, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	s := r.settings.resolve(ctx)
	out, ok, err := getAs[T](ctx, r, key, s)
	if err != nil {
		return zero, false, err
	}
	if ok {
		return out, true, nil
	}
	if fn == nil {
		return zero, false, ErrRememberCallback
	}
	out, err = fn(ctx)
	if err != nil {
		return zero, false, err
	}
	if err := r.put(ctx, key, out, ttl, s); err != nil {
		return zero, false, err
	}
	return out, false, nil
}

func getAs[T any](ctx context.Context, r *Repository, key string, s Settings) (T, bool, error) {
	var zero T
	body, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		r.emit(ctx, Event{Kind: EventCacheMissed, Key: key})
		return zero, false, nil
	}
	var out T
	res := r.comp.Decode(body, s, &out)
	r.logDecode(key, s, res)
	if res.Outcome == DecodeExhausted {
		if raw, isBytes := any(&out).(*[]byte); isBytes {
			*raw = cloneBytes(body)
			r.emit(ctx, Event{Kind: EventCacheHit, Key: key, Value: out})
			return out, true, nil
		}
		r.logger.Warn("cache value does not decode into requested type",
			zap.String("key", key),
			zap.Error(res.Err),
		)
		r.emit(ctx, Event{Kind: EventCacheMissed, Key: key})
		return zero, false, nil
	}
	r.emit(ctx, Event{Kind: EventCacheHit, Key: key, Value: out})
	return out, true, nil
}

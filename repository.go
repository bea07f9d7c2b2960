package cachecompress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goforj/cachecompress/cachecore"
)

// Repository is a cache repository that serializes, compresses and envelopes
// values on their way into a Store and reverses that on the way out.
//
// Compression settings are resolved once per operation: a context override
// (WithCompression) wins over an instance override (Compress, CompressionLevel),
// which wins over the global DefaultsSource. An instance override only lives
// until the next operation that resolves settings.
//
// A Repository is safe for concurrent use.
type Repository struct {
	store    Store
	driver   Driver
	comp     *Compressor
	settings *settingsResolver
	listener Listener
	observer Observer
	logger   *zap.Logger
	locks    *keyLocks
}

// NewRepository wraps store. A nil store behaves like the null driver.
func NewRepository(store Store, opts ...RepositoryOption) *Repository {
	cfg := RepositoryConfig{}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	cfg = cfg.withDefaults()
	if store == nil {
		store = newNullStore()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = ResolveDriver(store)
	}
	locks := cfg.locks
	if locks == nil {
		locks = newKeyLocks()
	}
	return &Repository{
		store:    store,
		driver:   driver,
		comp:     NewCompressor(cfg.Codec, EnvelopeFor(driver), cfg.MaxInflatedBytes),
		settings: newSettingsResolver(cfg.Defaults),
		listener: cfg.Listener,
		observer: cfg.Observer,
		logger:   cfg.Logger.With(zap.String("driver", driver.String())),
		locks:    locks,
	}
}

// Store returns the underlying store.
func (r *Repository) Store() Store { return r.store }

// Driver returns the driver name resolved when the repository was built.
func (r *Repository) Driver() Driver { return r.driver }

// Compress turns compression on or off for the next operation on r.
func (r *Repository) Compress(enabled bool) *Repository {
	r.settings.merge(settingsPatch{enabled: &enabled})
	return r
}

// Decompress is an alias of Compress.
func (r *Repository) Decompress(enabled bool) *Repository { return r.Compress(enabled) }

// WithoutCompression disables compression for the next operation on r.
func (r *Repository) WithoutCompression() *Repository { return r.Compress(false) }

// WithoutDecompress is an alias of WithoutCompression.
func (r *Repository) WithoutDecompress() *Repository { return r.WithoutCompression() }

// CompressionLevel sets the deflate level (clamped to 0..9) for the next operation on r.
func (r *Repository) CompressionLevel(level int) *Repository {
	r.settings.merge(settingsPatch{level: &level})
	return r
}

// CompressionOverride returns the pending instance override, if any.
func (r *Repository) CompressionOverride() (Settings, bool) { return r.settings.current() }

// ClearCompressionOverride drops the pending instance override.
func (r *Repository) ClearCompressionOverride() *Repository {
	r.settings.clear()
	return r
}

// Get returns the decoded value for key. Bytes that cannot be decoded under any
// setting are returned unchanged as []byte.
func (r *Repository) Get(ctx context.Context, key string) (any, bool, error) {
	start := time.Now()
	value, ok, err := r.get(ctx, key, r.settings.resolve(ctx))
	r.observe(ctx, "get", key, ok, err, start)
	return value, ok, err
}

// GetOr returns the value for key, or def on a miss. def is invoked when it is a
// func() any or func() (any, error).
func (r *Repository) GetOr(ctx context.Context, key string, def any) (any, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return value, nil
	}
	return resolveDefault(def)
}

// Has reports whether key is present. Stored bytes are not decoded.
func (r *Repository) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, ok, err := r.store.Get(ctx, key)
	r.observe(ctx, "has", key, ok, err, start)
	return ok, err
}

// Put encodes value and stores it under key. ttl follows the store convention:
// zero for the store default, negative for no expiry.
func (r *Repository) Put(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	start := time.Now()
	err := r.put(ctx, key, value, ttl, r.settings.resolve(ctx))
	r.observe(ctx, "put", key, false, err, start)
	return err == nil, err
}

// Set is an alias of Put.
func (r *Repository) Set(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return r.Put(ctx, key, value, ttl)
}

// Add stores value only when key is absent and reports whether it did.
func (r *Repository) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	start := time.Now()
	s := r.settings.resolve(ctx)
	body, err := r.encode(key, value, s)
	if err != nil {
		r.observe(ctx, "add", key, false, err, start)
		return false, err
	}
	created, err := r.store.Add(ctx, key, body, ttl)
	if err == nil && created {
		r.emitWritten(ctx, key, body, ttl)
	}
	r.observe(ctx, "add", key, false, err, start)
	return created, err
}

// Forever stores value without expiry.
func (r *Repository) Forever(ctx context.Context, key string, value any) (bool, error) {
	start := time.Now()
	err := r.put(ctx, key, value, cachecore.NoExpiration, r.settings.resolve(ctx))
	r.observe(ctx, "forever", key, false, err, start)
	return err == nil, err
}

// Remember returns the cached value for key or stores the result of fn. On a
// miss the stored value is read back, so both paths return the same shape
// (see JSONCodec for what untyped reads produce).
func (r *Repository) Remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	value, hit, err := r.remember(ctx, key, ttl, fn)
	r.observe(ctx, "remember", key, hit, err, start)
	return value, err
}

// RememberForever is Remember with no expiry.
func (r *Repository) RememberForever(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	value, hit, err := r.remember(ctx, key, cachecore.NoExpiration, fn)
	r.observe(ctx, "remember_forever", key, hit, err, start)
	return value, err
}

// Sear is an alias of RememberForever.
func (r *Repository) Sear(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	return r.RememberForever(ctx, key, fn)
}

func (r *Repository) remember(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, bool, error) {
	s := r.settings.resolve(ctx)
	value, ok, err := r.get(ctx, key, s)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return value, true, nil
	}
	if fn == nil {
		return nil, false, ErrRememberCallback
	}
	value, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}
	body, err := r.write(ctx, key, value, ttl, s)
	if err != nil {
		return nil, false, err
	}
	return r.decode(key, body, s), false, nil
}

// Many returns a value for every key; missing keys map to nil.
func (r *Repository) Many(ctx context.Context, keys ...string) (map[string]any, error) {
	start := time.Now()
	out, found, err := r.many(ctx, keys)
	r.observe(ctx, "many", strings.Join(keys, ","), found > 0, err, start)
	return out, err
}

// GetMultiple is Many with def substituted for missing keys.
func (r *Repository) GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error) {
	start := time.Now()
	out, found, err := r.many(ctx, keys)
	r.observe(ctx, "many", strings.Join(keys, ","), found > 0, err, start)
	if err != nil {
		return nil, err
	}
	for key, value := range out {
		if value == nil {
			out[key] = def
		}
	}
	return out, nil
}

// many also reports how many keys were found; the observer counts the call
// as a hit when at least one was.
func (r *Repository) many(ctx context.Context, keys []string) (map[string]any, int, error) {
	s := r.settings.resolve(ctx)
	bodies, err := r.fetchMany(ctx, keys)
	if err != nil {
		return nil, 0, err
	}
	found := 0
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		body, ok := bodies[key]
		if !ok {
			out[key] = nil
			r.emit(ctx, Event{Kind: EventCacheMissed, Key: key})
			continue
		}
		found++
		value := r.decode(key, body, s)
		out[key] = value
		r.emit(ctx, Event{Kind: EventCacheHit, Key: key, Value: value})
	}
	return out, found, nil
}

func (r *Repository) fetchMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if getter, ok := r.store.(cachecore.ManyGetter); ok {
		return getter.GetMany(ctx, keys...)
	}
	bodies := make(map[string][]byte, len(keys))
	for _, key := range keys {
		body, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			bodies[key] = body
		}
	}
	return bodies, nil
}

// PutMany encodes every value before writing any of them.
func (r *Repository) PutMany(ctx context.Context, values map[string]any, ttl time.Duration) (bool, error) {
	start := time.Now()
	err := r.putMany(ctx, values, ttl)
	r.observe(ctx, "put_many", "", false, err, start)
	return err == nil, err
}

// SetMultiple is an alias of PutMany.
func (r *Repository) SetMultiple(ctx context.Context, values map[string]any, ttl time.Duration) (bool, error) {
	return r.PutMany(ctx, values, ttl)
}

func (r *Repository) putMany(ctx context.Context, values map[string]any, ttl time.Duration) error {
	s := r.settings.resolve(ctx)
	bodies := make(map[string][]byte, len(values))
	for key, value := range values {
		body, err := r.encode(key, value, s)
		if err != nil {
			return err
		}
		bodies[key] = body
	}
	setter, ok := r.store.(cachecore.ManySetter)
	if !ok {
		for key, body := range bodies {
			if err := r.store.Set(ctx, key, body, ttl); err != nil {
				return err
			}
			r.emitWritten(ctx, key, body, ttl)
		}
		return nil
	}
	if err := setter.SetMany(ctx, bodies, ttl); err != nil {
		return err
	}
	for key, body := range bodies {
		r.emitWritten(ctx, key, body, ttl)
	}
	return nil
}

// Pull returns the value for key and removes it. Concurrent pulls of the same
// key never both observe the value when they go through one repository or
// through repositories a Manager built for the same store.
func (r *Repository) Pull(ctx context.Context, key string) (any, bool, error) {
	start := time.Now()
	unlock := r.locks.lock(key)
	defer unlock()

	value, ok, err := r.get(ctx, key, r.settings.resolve(ctx))
	if err == nil && ok {
		err = r.store.Delete(ctx, key)
	}
	r.observe(ctx, "pull", key, ok, err, start)
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

// PullOr is Pull with a default for misses, resolved like GetOr.
func (r *Repository) PullOr(ctx context.Context, key string, def any) (any, error) {
	value, ok, err := r.Pull(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return value, nil
	}
	return resolveDefault(def)
}

// Forget removes key.
func (r *Repository) Forget(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	err := r.store.Delete(ctx, key)
	r.observe(ctx, "forget", key, false, err, start)
	return err == nil, err
}

// Delete is an alias of Forget.
func (r *Repository) Delete(ctx context.Context, key string) (bool, error) {
	return r.Forget(ctx, key)
}

// DeleteMultiple removes every key.
func (r *Repository) DeleteMultiple(ctx context.Context, keys ...string) (bool, error) {
	start := time.Now()
	err := r.store.DeleteMany(ctx, keys...)
	r.observe(ctx, "delete_many", strings.Join(keys, ","), false, err, start)
	return err == nil, err
}

// Flush removes every entry from the store.
func (r *Repository) Flush(ctx context.Context) (bool, error) {
	start := time.Now()
	err := r.store.Flush(ctx)
	r.observe(ctx, "flush", "", false, err, start)
	return err == nil, err
}

// Clear is an alias of Flush.
func (r *Repository) Clear(ctx context.Context) (bool, error) { return r.Flush(ctx) }

// Increment adds delta to the integer stored at key. Counters are kept in the
// store's own format and are never compressed.
func (r *Repository) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	value, err := r.store.Increment(ctx, key, delta, 0)
	r.observe(ctx, "increment", key, false, err, start)
	return value, err
}

// Decrement subtracts delta from the integer stored at key.
func (r *Repository) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	value, err := r.store.Decrement(ctx, key, delta, 0)
	r.observe(ctx, "decrement", key, false, err, start)
	return value, err
}

func (r *Repository) get(ctx context.Context, key string, s Settings) (any, bool, error) {
	body, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		r.emit(ctx, Event{Kind: EventCacheMissed, Key: key})
		return nil, false, nil
	}
	value := r.decode(key, body, s)
	r.emit(ctx, Event{Kind: EventCacheHit, Key: key, Value: value})
	return value, true, nil
}

func (r *Repository) put(ctx context.Context, key string, value any, ttl time.Duration, s Settings) error {
	_, err := r.write(ctx, key, value, ttl, s)
	return err
}

// write stores value and returns the bytes the store received.
func (r *Repository) write(ctx context.Context, key string, value any, ttl time.Duration, s Settings) ([]byte, error) {
	body, err := r.encode(key, value, s)
	if err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, key, body, ttl); err != nil {
		return nil, err
	}
	r.emitWritten(ctx, key, body, ttl)
	return body, nil
}

func (r *Repository) encode(key string, value any, s Settings) ([]byte, error) {
	body, err := r.comp.Encode(value, s)
	if err != nil {
		return nil, fmt.Errorf("cachecompress: encode %q: %w", key, err)
	}
	return body, nil
}

// decode never fails: bytes no attempt can read come back as they were stored.
func (r *Repository) decode(key string, body []byte, s Settings) any {
	var out any
	res := r.comp.Decode(body, s, &out)
	r.logDecode(key, s, res)
	if res.Outcome == DecodeExhausted {
		return cloneBytes(body)
	}
	return out
}

func (r *Repository) logDecode(key string, s Settings, res DecodeResult) {
	preferred := StagePlain
	if s.Enabled {
		preferred = StageInflate
	}
	if res.Stage == preferred {
		return
	}
	if ce := r.logger.Check(zap.DebugLevel, "cache value decoded by fallback"); ce != nil {
		ce.Write(
			zap.String("key", key),
			zap.String("stage", res.Stage),
			zap.Bool("compression", s.Enabled),
			zap.Error(res.Err),
		)
	}
}

func (r *Repository) emitWritten(ctx context.Context, key string, body []byte, ttl time.Duration) {
	r.emit(ctx, Event{
		Kind:       EventKeyWritten,
		Key:        key,
		Stored:     body,
		TTL:        ttl,
		TTLMinutes: ttlMinutes(ttl),
		Forever:    cachecore.Forever(ttl),
	})
}

func (r *Repository) emit(ctx context.Context, ev Event) {
	if r.listener == nil {
		return
	}
	ev.Driver = r.driver
	r.listener.OnCacheEvent(ctx, ev)
}

func (r *Repository) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if r.observer == nil {
		return
	}
	r.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), r.driver)
}

func resolveDefault(def any) (any, error) {
	switch fn := def.(type) {
	case func() any:
		return fn(), nil
	case func() (any, error):
		return fn()
	default:
		return def, nil
	}
}

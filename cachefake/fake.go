package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/cachecompress"
	"github.com/goforj/cachecompress/cachecore"
)

// Op identifies a store operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpGetMany    Op = "get_many"
	OpSet        Op = "set"
	OpSetMany    Op = "set_many"
	OpAdd        Op = "add"
	OpInc        Op = "inc"
	OpDec        Op = "dec"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "delete_many"
	OpFlush      Op = "flush"
)

// Fake exposes a deterministic in-memory store plus assertion helpers for tests.
// It wraps the memory store so no external services are needed.
type Fake struct {
	store  *countingStore
	repo   *cachecompress.Repository
	counts map[Op]map[string]int
	fail   map[Op]error
	mu     sync.Mutex
}

// New creates a Fake using an in-memory store. opts apply to the repository.
func New(opts ...cachecompress.RepositoryOption) *Fake {
	f := &Fake{
		counts: make(map[Op]map[string]int),
		fail:   make(map[Op]error),
	}
	f.store = &countingStore{inner: cachecompress.NewMemoryStore(context.Background()), fake: f}
	f.repo = cachecompress.NewRepository(f.store, opts...)
	return f
}

// Repository returns the compressed repository to inject into code under test.
func (f *Fake) Repository() *cachecompress.Repository { return f.repo }

// Store returns the counting store behind the repository.
func (f *Fake) Store() cachecore.Store { return f.store }

// Raw returns the bytes stored for key exactly as the repository wrote them.
func (f *Fake) Raw(key string) ([]byte, bool) {
	body, ok, _ := f.store.inner.Get(context.Background(), key)
	return body, ok
}

// FailOn makes every later op return err until Reset. A nil err clears it.
func (f *Fake) FailOn(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Reset clears recorded counts and injected failures.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
	f.fail = make(map[Op]error)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

// record counts the call and returns the injected failure for op, if any.
func (f *Fake) record(op Op, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	for _, key := range keys {
		f.counts[op][key]++
	}
	return f.fail[op]
}

// countingStore wraps a Store to record calls. It reports the inner driver so
// the repository picks the same envelope.
type countingStore struct {
	inner cachecore.Store
	fake  *Fake
}

func (s *countingStore) Driver() cachecore.Driver { return cachecompress.ResolveDriver(s.inner) }

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.fake.record(OpGet, key); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *countingStore) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if err := s.fake.record(OpGetMany, keys...); err != nil {
		return nil, err
	}
	if getter, ok := s.inner.(cachecore.ManyGetter); ok {
		return getter.GetMany(ctx, keys...)
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		body, ok, err := s.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = body
		}
	}
	return out, nil
}

func (s *countingStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.fake.record(OpSet, key); err != nil {
		return err
	}
	return s.inner.Set(ctx, key, val, ttl)
}

func (s *countingStore) SetMany(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	if err := s.fake.record(OpSetMany, keys...); err != nil {
		return err
	}
	for key, val := range values {
		if err := s.inner.Set(ctx, key, val, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *countingStore) Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	if err := s.fake.record(OpAdd, key); err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, val, ttl)
}

func (s *countingStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := s.fake.record(OpInc, key); err != nil {
		return 0, err
	}
	return s.inner.Increment(ctx, key, delta, ttl)
}

func (s *countingStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := s.fake.record(OpDec, key); err != nil {
		return 0, err
	}
	return s.inner.Decrement(ctx, key, delta, ttl)
}

func (s *countingStore) Delete(ctx context.Context, key string) error {
	if err := s.fake.record(OpDelete, key); err != nil {
		return err
	}
	return s.inner.Delete(ctx, key)
}

func (s *countingStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.fake.record(OpDeleteMany, keys...); err != nil {
		return err
	}
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *countingStore) Flush(ctx context.Context) error {
	if err := s.fake.record(OpFlush, ""); err != nil {
		return err
	}
	return s.inner.Flush(ctx)
}

package cachefake_test

import (
	"errors"
	"testing"
	"time"

	"github.com/goforj/cachecompress"
	"github.com/goforj/cachecompress/cachefake"
)

func TestFakeCountsRepositoryCalls(t *testing.T) {
	ctx := t.Context()
	f := cachefake.New()
	repo := f.Repository()

	if _, err := repo.Put(ctx, "user:1", "ada", time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if v, ok, _ := repo.Get(ctx, "user:1"); !ok || v != "ada" {
		t.Fatalf("expected stored value, got %v ok=%v", v, ok)
	}
	_, _ = repo.Many(ctx, "user:1", "user:2")
	_, _ = repo.PutMany(ctx, map[string]any{"a": 1, "b": 2}, 0)
	_, _ = repo.Increment(ctx, "hits", 1)
	_, _ = repo.Flush(ctx)

	f.AssertCalled(t, cachefake.OpSet, "user:1", 1)
	f.AssertCalled(t, cachefake.OpGet, "user:1", 1)
	f.AssertCalled(t, cachefake.OpGetMany, "user:2", 1)
	f.AssertTotal(t, cachefake.OpSetMany, 2)
	f.AssertCalled(t, cachefake.OpInc, "hits", 1)
	f.AssertTotal(t, cachefake.OpFlush, 1)
	f.AssertNotCalled(t, cachefake.OpDelete, "user:1")

	if f.Store() == nil || repo.Driver() != cachecompress.DriverMemory {
		t.Fatalf("expected memory driver behind the fake, got %q", repo.Driver())
	}

	f.Reset()
	f.AssertTotal(t, cachefake.OpSet, 0)
}

func TestFakeRawShowsStoredBytes(t *testing.T) {
	ctx := t.Context()
	f := cachefake.New(cachecompress.WithDefaults(cachecompress.StaticDefaults{Enabled: false}))
	_, _ = f.Repository().Put(ctx, "k", map[string]string{"a": "b"}, 0)

	raw, ok := f.Raw("k")
	if !ok || string(raw) != `{"a":"b"}` {
		t.Fatalf("unexpected raw bytes %q ok=%v", raw, ok)
	}
	if _, ok := f.Raw("missing"); ok {
		t.Fatalf("expected missing key")
	}
}

func TestFakeFailOn(t *testing.T) {
	ctx := t.Context()
	f := cachefake.New()
	boom := errors.New("boom")
	f.FailOn(cachefake.OpGet, boom)

	if _, _, err := f.Repository().Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := f.Repository().Remember(ctx, "k", time.Minute, nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error from remember, got %v", err)
	}
	f.AssertCalled(t, cachefake.OpGet, "k", 2)

	f.FailOn(cachefake.OpGet, nil)
	if _, _, err := f.Repository().Get(ctx, "k"); err != nil {
		t.Fatalf("expected failure cleared, got %v", err)
	}
}

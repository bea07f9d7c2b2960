package cachecompress

import (
	"context"
	"testing"
	"time"

	"github.com/goforj/cachecompress/cachetest"
)

func newTestRistrettoStore(t *testing.T) *ristrettoStore {
	t.Helper()
	store, err := newRistrettoStore(time.Minute, 1<<20)
	if err != nil {
		t.Fatalf("new ristretto store: %v", err)
	}
	t.Cleanup(store.cache.Close)
	return store
}

func TestRistrettoStoreContract(t *testing.T) {
	cachetest.RunStoreContract(t, newTestRistrettoStore(t), cachetest.Options{})
}

func TestRistrettoStoreThroughRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestRistrettoStore(t))
	if repo.Driver() != DriverRistretto {
		t.Fatalf("expected ristretto driver, got %q", repo.Driver())
	}
	if _, err := repo.Put(ctx, "k", map[string]any{"n": 1.0}, time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, ok, err := repo.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if m, _ := got.(map[string]any); m["n"] != 1.0 {
		t.Fatalf("unexpected value %#v", got)
	}
}

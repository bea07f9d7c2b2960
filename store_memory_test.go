package cachecompress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goforj/cachecompress/cachetest"
)

func TestMemoryStoreContract(t *testing.T) {
	cachetest.RunStoreContract(t, newMemoryStore(0, 0), cachetest.Options{})
}

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := newMemoryStore(0, 0)

	key := "alpha"
	body := []byte("hello")
	if err := store.Set(context.Background(), key, body, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	body[0] = 'x'

	got, ok, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected value in cache")
	}
	if string(got) != "hello" {
		t.Fatalf("expected cached clone to be unchanged, got %q", got)
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get after delete failed: %v", err)
	}
	if ok {
		t.Fatalf("expected deleted key to be missing")
	}
}

func TestMemoryStoreNegativeTTLNeverExpires(t *testing.T) {
	store := newMemoryStore(20*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()
	if err := store.Set(ctx, "forever", []byte("v"), NoExpiration); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "default", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "forever"); !ok {
		t.Fatalf("expected forever entry to survive")
	}
	if _, ok, _ := store.Get(ctx, "default"); ok {
		t.Fatalf("expected default ttl entry to expire")
	}
}

func TestMemoryStoreBatchPaths(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()
	if err := store.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute); err != nil {
		t.Fatalf("set many failed: %v", err)
	}
	got, err := store.GetMany(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("get many failed: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("unexpected get many result: %v", got)
	}
}

func TestMemoryStoreIncrementNonNumeric(t *testing.T) {
	store := newMemoryStore(0, 0)
	ctx := context.Background()
	if err := store.Set(ctx, "word", []byte("abc"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := store.Increment(ctx, "word", 1, time.Minute); !errors.Is(err, errNotNumeric) {
		t.Fatalf("expected errNotNumeric, got %v", err)
	}
}

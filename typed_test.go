package cachecompress

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type profile struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func TestGetAsDecodesIntoType(t *testing.T) {
	ctx := t.Context()
	repo := newTestRepository(t)
	_, _ = repo.Put(ctx, "p", profile{Name: "ada", Roles: []string{"admin"}}, time.Minute)

	got, ok, err := GetAs[profile](ctx, repo, "p")
	if err != nil || !ok {
		t.Fatalf("get as failed: ok=%v err=%v", ok, err)
	}
	if got.Name != "ada" || len(got.Roles) != 1 || got.Roles[0] != "admin" {
		t.Fatalf("unexpected profile %+v", got)
	}

	if _, ok, err := GetAs[profile](ctx, repo, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestGetAsUndecodableIsMiss(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := newTestRepository(t, WithLogger(zap.New(core)))
	ctx := t.Context()
	_, _ = repo.Put(ctx, "n", "not a number", 0)

	got, ok, err := GetAs[int](ctx, repo, "n")
	if err != nil || ok || got != 0 {
		t.Fatalf("expected typed miss, got %v ok=%v err=%v", got, ok, err)
	}
	if logs.FilterMessage("cache value does not decode into requested type").Len() != 1 {
		t.Fatalf("expected a warning for the undecodable value")
	}
}

func TestGetAsBytesReceivesRaw(t *testing.T) {
	ctx := t.Context()
	repo := newTestRepository(t)
	junk := []byte{0xff, 0x00, 0x10}
	_ = repo.Store().Set(ctx, "junk", junk, 0)

	got, ok, err := GetAs[[]byte](ctx, repo, "junk")
	if err != nil || !ok || string(got) != string(junk) {
		t.Fatalf("expected raw bytes, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestRememberAs(t *testing.T) {
	ctx := t.Context()
	repo := newTestRepository(t)

	calls := 0
	fn := func(context.Context) (profile, error) {
		calls++
		return profile{Name: "grace"}, nil
	}
	for i := 0; i < 2; i++ {
		got, err := RememberAs(ctx, repo, "p", time.Minute, fn)
		if err != nil || got.Name != "grace" {
			t.Fatalf("remember as failed: %+v err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}

	n, err := RememberForeverAs(ctx, repo, "n", func(context.Context) (int, error) { return 42, nil })
	if err != nil || n != 42 {
		t.Fatalf("remember forever as failed: %d err=%v", n, err)
	}
	n, _ = RememberForeverAs[int](ctx, repo, "n", nil)
	if n != 42 {
		t.Fatalf("expected cached value without callback, got %d", n)
	}
	if _, err := RememberAs[int](ctx, repo, "absent", time.Minute, nil); err != ErrRememberCallback {
		t.Fatalf("expected ErrRememberCallback, got %v", err)
	}
}

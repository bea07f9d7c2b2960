package cachecompress

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/goforj/cachecompress/cachecore"
)

func TestSettingsPrecedence(t *testing.T) {
	r := newSettingsResolver(StaticDefaults{Enabled: true, Level: 3})
	ctx := context.Background()

	if got := r.resolve(ctx); got != (Settings{Enabled: true, Level: 3}) {
		t.Fatalf("expected global defaults, got %+v", got)
	}

	enabled := false
	r.merge(settingsPatch{enabled: &enabled})
	scoped := WithCompressionLevel(ctx, 9)
	if got := r.resolve(scoped); got != (Settings{Enabled: true, Level: 9}) {
		t.Fatalf("context should win over instance override, got %+v", got)
	}
	if _, ok := r.current(); !ok {
		t.Fatalf("a context-resolved operation must not consume the instance override")
	}
	if got := r.resolve(ctx); got != (Settings{Enabled: false, Level: 3}) {
		t.Fatalf("instance override should win over defaults, got %+v", got)
	}
	if _, ok := r.current(); ok {
		t.Fatalf("instance override should be consumed by one operation")
	}
	if got := r.resolve(ctx); got != (Settings{Enabled: true, Level: 3}) {
		t.Fatalf("expected defaults after override consumed, got %+v", got)
	}
}

func TestSettingsOverrideSeedsFromDefaultsAndMerges(t *testing.T) {
	r := newSettingsResolver(StaticDefaults{Enabled: false, Level: 2})
	level := 42
	r.merge(settingsPatch{level: &level})
	got, ok := r.current()
	if !ok || got != (Settings{Enabled: false, Level: cachecore.MaxLevel}) {
		t.Fatalf("expected seeded, clamped override, got %+v ok=%v", got, ok)
	}
	enabled := true
	r.merge(settingsPatch{enabled: &enabled})
	if got, _ := r.current(); got != (Settings{Enabled: true, Level: cachecore.MaxLevel}) {
		t.Fatalf("expected merged override, got %+v", got)
	}
	r.clear()
	if _, ok := r.current(); ok {
		t.Fatalf("expected override cleared")
	}
}

func TestSettingsDefaultsAreReadPerOperation(t *testing.T) {
	var level atomic.Int64
	level.Store(1)
	r := newSettingsResolver(DefaultsFunc(func() Settings {
		return Settings{Enabled: true, Level: int(level.Load())}
	}))
	if got := r.resolve(context.Background()); got.Level != 1 {
		t.Fatalf("expected level 1, got %d", got.Level)
	}
	level.Store(7)
	if got := r.resolve(context.Background()); got.Level != 7 {
		t.Fatalf("expected level 7 after defaults changed, got %d", got.Level)
	}
}

func TestContextHelpers(t *testing.T) {
	if _, ok := CompressionFromContext(context.Background()); ok {
		t.Fatalf("expected no settings on a bare context")
	}
	s, ok := CompressionFromContext(WithCompressionDisabled(context.Background()))
	if !ok || s.Enabled {
		t.Fatalf("expected disabled settings, got %+v ok=%v", s, ok)
	}
	s, _ = CompressionFromContext(WithCompression(context.Background(), Settings{Enabled: true, Level: -1}))
	if s.Level != -1 {
		t.Fatalf("context keeps raw level; normalisation happens on resolve")
	}
	if got := newSettingsResolver(nil).resolve(WithCompression(context.Background(), Settings{Enabled: true, Level: -1})); got.Level != cachecore.MinLevel {
		t.Fatalf("expected clamped level, got %d", got.Level)
	}
}

func TestNilDefaultsFuncFallsBack(t *testing.T) {
	var f DefaultsFunc
	if got := f.CompressionDefaults(); got != cachecore.DefaultSettings() {
		t.Fatalf("expected package defaults, got %+v", got)
	}
}

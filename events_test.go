package cachecompress

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnCacheEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestTTLMinutes(t *testing.T) {
	cases := map[time.Duration]int64{
		-1:                        0,
		0:                         0,
		time.Second:               1,
		time.Minute:               1,
		time.Minute + 1:           2,
		90 * time.Minute:          90,
		2*time.Hour + time.Second: 121,
	}
	for ttl, want := range cases {
		if got := ttlMinutes(ttl); got != want {
			t.Fatalf("ttlMinutes(%s) = %d, want %d", ttl, got, want)
		}
	}
}

func TestRepositoryEmitsEvents(t *testing.T) {
	rec := &eventRecorder{}
	repo := newTestRepository(t, WithListener(rec))
	ctx := t.Context()

	_, _ = repo.Put(ctx, "k", "v", 90*time.Second)
	_, _ = repo.Forever(ctx, "f", "v")
	_, _, _ = repo.Get(ctx, "k")
	_, _, _ = repo.Get(ctx, "missing")
	_, _ = repo.Add(ctx, "k", "other", 0)

	want := []EventKind{EventKeyWritten, EventKeyWritten, EventCacheHit, EventCacheMissed}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	written := rec.events[0]
	if written.TTLMinutes != 2 || written.Forever || written.Driver != DriverMemory {
		t.Fatalf("unexpected write event %+v", written)
	}
	raw, _, _ := repo.Store().Get(ctx, "k")
	if string(written.Stored) != string(raw) {
		t.Fatalf("write event should carry stored bytes")
	}
	if forever := rec.events[1]; !forever.Forever || forever.TTLMinutes != 0 {
		t.Fatalf("unexpected forever event %+v", forever)
	}
	if hit := rec.events[2]; hit.Value != "v" {
		t.Fatalf("hit event should carry decoded value, got %#v", hit.Value)
	}
}

func TestLogListener(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	repo := newTestRepository(t, WithListener(NewLogListener(zap.New(core))))
	ctx := t.Context()

	_, _ = repo.Put(ctx, "k", "v", time.Minute)
	entries := logs.FilterMessage("cache event").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != string(EventKeyWritten) || fields["ttl_minutes"] != int64(1) || fields["forever"] != false {
		t.Fatalf("unexpected fields %v", fields)
	}
}

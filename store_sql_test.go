package cachecompress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goforj/cachecompress/cachecore"
	"github.com/goforj/cachecompress/cachetest"
)

func newSQLiteStore(t *testing.T, prefix string) *sqlStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := newSQLStore(context.Background(), StoreConfig{
		BaseConfig:    cachecore.BaseConfig{Prefix: prefix, DefaultTTL: time.Minute},
		SQLDriverName: "sqlite",
		SQLDSN:        "file:" + name + "?mode=memory&cache=shared",
		SQLTable:      "cache_entries",
	})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	store.db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = store.db.Close() })
	return store
}

func TestSQLStoreContract(t *testing.T) {
	cachetest.RunStoreContract(t, newSQLiteStore(t, "pfx"), cachetest.Options{})
}

func TestSQLStoreForeverRows(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, "pfx")
	if err := store.Set(ctx, "forever", []byte("v"), NoExpiration); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	var ea int64
	if err := store.db.QueryRowContext(ctx, "SELECT ea FROM cache_entries WHERE k = ?", "pfx:forever").Scan(&ea); err != nil {
		t.Fatalf("select: %v", err)
	}
	if ea != 0 {
		t.Fatalf("expected ea=0, got %d", ea)
	}
	created, err := store.Add(ctx, "forever", []byte("other"), time.Minute)
	if err != nil || created {
		t.Fatalf("add must not replace a forever row: created=%v err=%v", created, err)
	}
	if n, err := store.Increment(ctx, "forever-counter", 2, NoExpiration); err != nil || n != 2 {
		t.Fatalf("increment failed: n=%d err=%v", n, err)
	}
}

func TestSQLStoreAddReusesExpiredRow(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, "pfx")
	past := time.Now().Add(-time.Minute).UnixMilli()
	if _, err := store.db.ExecContext(ctx, "INSERT INTO cache_entries (k, v, ea) VALUES (?, ?, ?)", "pfx:old", []byte("x"), past); err != nil {
		t.Fatalf("insert: %v", err)
	}
	created, err := store.Add(ctx, "old", []byte("fresh"), time.Minute)
	if err != nil || !created {
		t.Fatalf("expected add over expired row: created=%v err=%v", created, err)
	}
	got, ok, err := store.Get(ctx, "old")
	if err != nil || !ok || string(got) != "fresh" {
		t.Fatalf("unexpected get: ok=%v err=%v got=%q", ok, err, got)
	}
}

func TestSQLStoreFlushIsPrefixScoped(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, "pfx")
	if _, err := store.db.ExecContext(ctx, "INSERT INTO cache_entries (k, v, ea) VALUES (?, ?, 0)", "other:k", []byte("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	var n int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the foreign row to remain, got %d rows", n)
	}
}

func TestSQLStoreDialects(t *testing.T) {
	ctx := context.Background()
	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "pgx-fake", SQLDSN: "irrelevant", SQLTable: "tbl"}); err != nil {
		t.Fatalf("pg store: %v", err)
	}
	joined := strings.Join(pgFakeDriver.seen(), "\n")
	if !strings.Contains(joined, "BYTEA") || !strings.Contains(joined, "ON CONFLICT (k) DO UPDATE SET v = $4, ea = $5") {
		t.Fatalf("unexpected postgres statements:\n%s", joined)
	}

	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "mysql-fake", SQLDSN: "irrelevant", SQLTable: "tbl"}); err != nil {
		t.Fatalf("mysql store: %v", err)
	}
	joined = strings.Join(mysqlFakeDriver.seen(), "\n")
	if !strings.Contains(joined, "LONGBLOB") || !strings.Contains(joined, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("unexpected mysql statements:\n%s", joined)
	}
}

func TestSQLStoreConstructionErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "sqlite"}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "exec-fail", SQLDSN: "x", SQLTable: "tbl"}); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "ping-fail", SQLDSN: "x"}); err == nil {
		t.Fatalf("expected ping error")
	}
	if _, err := newSQLStore(ctx, StoreConfig{SQLDriverName: "sqlite", SQLDSN: "x", SQLTable: "t; DROP TABLE users"}); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}

func TestSQLTableNameValidation(t *testing.T) {
	if err := validateSQLTableName("public.cache_entries"); err != nil {
		t.Fatalf("expected dotted table name to be allowed: %v", err)
	}
}

//go:build integration

package cachecompress

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goforj/cachecompress/cachecore"
	"github.com/goforj/cachecompress/cachetest"
)

type integrationFixture struct {
	name string
	new  func(t *testing.T) Store
}

// selectedIntegrationDrivers reads INTEGRATION_DRIVER: "all" (default) or a
// comma-separated list such as "redis,nats".
func selectedIntegrationDrivers() map[string]bool {
	selected := map[string]bool{
		"redis":     true,
		"memcached": true,
		"nats":      true,
		"postgres":  true,
		"mysql":     true,
	}
	value := strings.TrimSpace(strings.ToLower(os.Getenv("INTEGRATION_DRIVER")))
	if value == "" || value == "all" {
		return selected
	}
	for key := range selected {
		selected[key] = false
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			selected[part] = true
		}
	}
	return selected
}

func integrationFixtures() []integrationFixture {
	all := []integrationFixture{
		{name: "redis", new: func(t *testing.T) Store {
			addr := startContainer(t, testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
			}, "6379/tcp")
			client := redis.NewClient(&redis.Options{Addr: addr})
			t.Cleanup(func() { _ = client.Close() })
			return newRedisStore(client, 2*time.Second, "itest")
		}},
		{name: "memcached", new: func(t *testing.T) Store {
			addr := startContainer(t, testcontainers.ContainerRequest{
				Image:        "memcached:1.6-bookworm",
				ExposedPorts: []string{"11211/tcp"},
				WaitingFor:   wait.ForListeningPort("11211/tcp").WithStartupTimeout(30 * time.Second),
			}, "11211/tcp")
			return newMemcachedStore([]string{addr}, 2*time.Second, "itest")
		}},
		{name: "nats", new: func(t *testing.T) Store {
			addr := startContainer(t, testcontainers.ContainerRequest{
				Image:        "nats:2",
				Cmd:          []string{"-js"},
				ExposedPorts: []string{"4222/tcp"},
				WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
			}, "4222/tcp")
			nc, err := nats.Connect("nats://" + addr)
			if err != nil {
				t.Fatalf("connect nats: %v", err)
			}
			t.Cleanup(nc.Close)
			js, err := nc.JetStream()
			if err != nil {
				t.Fatalf("jetstream nats: %v", err)
			}
			kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "cache_itest", History: 1})
			if err != nil {
				t.Fatalf("create nats kv bucket: %v", err)
			}
			return newNATSStore(kv, 2*time.Second, "itest", false)
		}},
		{name: "postgres", new: func(t *testing.T) Store {
			addr := startContainer(t, testcontainers.ContainerRequest{
				Image:        "postgres:16-bookworm",
				Env:          map[string]string{"POSTGRES_PASSWORD": "pass", "POSTGRES_USER": "user", "POSTGRES_DB": "app"},
				ExposedPorts: []string{"5432/tcp"},
				WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
			}, "5432/tcp")
			return newIntegrationSQLStore(t, "pgx", "postgres://user:pass@"+addr+"/app?sslmode=disable")
		}},
		{name: "mysql", new: func(t *testing.T) Store {
			addr := startContainer(t, testcontainers.ContainerRequest{
				Image: "mysql:8",
				Env: map[string]string{
					"MYSQL_ROOT_PASSWORD": "pass",
					"MYSQL_DATABASE":      "app",
					"MYSQL_USER":          "user",
					"MYSQL_PASSWORD":      "pass",
				},
				ExposedPorts: []string{"3306/tcp"},
				WaitingFor: wait.ForAll(
					wait.ForListeningPort("3306/tcp").WithStartupTimeout(90*time.Second),
					wait.ForLog("ready for connections").WithOccurrence(2).WithStartupTimeout(90*time.Second),
				),
			}, "3306/tcp")
			return newIntegrationSQLStore(t, "mysql", "user:pass@tcp("+addr+")/app?parseTime=true")
		}},
	}
	selected := selectedIntegrationDrivers()
	out := all[:0]
	for _, fx := range all {
		if selected[fx.name] {
			out = append(out, fx)
		}
	}
	return out
}

func newIntegrationSQLStore(t *testing.T, driverName, dsn string) Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cfg := StoreConfig{
		BaseConfig:    cachecore.BaseConfig{DefaultTTL: 2 * time.Second, Prefix: "itest"},
		Driver:        DriverSQL,
		SQLDriverName: driverName,
		SQLDSN:        dsn,
	}
	var (
		store Store
		err   error
	)
	// the server may accept connections before it accepts logins
	for ctx.Err() == nil {
		if store, err = NewStore(ctx, cfg); err == nil {
			return store
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("open %s store: %v", driverName, err)
	return nil
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(shutdownCtx)
	})
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s container host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("%s container port: %v", req.Image, err)
	}
	return host + ":" + mapped.Port()
}

func TestIntegrationStores(t *testing.T) {
	for _, fx := range integrationFixtures() {
		t.Run(fx.name, func(t *testing.T) {
			store := fx.new(t)
			cachetest.RunStoreContract(t, store, cachetest.Options{
				TTL:     time.Second,
				TTLWait: 2500 * time.Millisecond,
			})

			repo := NewRepository(store)
			ctx := t.Context()
			payload := map[string]any{"name": "ada", "tags": []any{"a", "b"}}
			if _, err := repo.Put(ctx, "repo:payload", payload, time.Minute); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := repo.WithoutDecompress().Get(ctx, "repo:payload")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if m, isMap := got.(map[string]any); !isMap || m["name"] != "ada" {
				t.Fatalf("unexpected value %#v", got)
			}
			n, err := repo.Increment(ctx, "repo:counter", 3)
			if err != nil || n != 3 {
				t.Fatalf("increment: n=%d err=%v", n, err)
			}
		})
	}
}

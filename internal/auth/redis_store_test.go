package auth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisSessionStore(client)
	if err != nil {
		t.Fatalf("NewRedisSessionStore returned error: %v", err)
	}
	return store, server
}

func TestRedisStoreRoundtrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(time.Hour)

	if err := store.Save("abc123", RoleAdmin, issued, expires); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	record, ok, err := store.Get("abc123")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected session to be present")
	}
	if record.Role != RoleAdmin {
		t.Fatalf("expected role admin, got %s", record.Role)
	}
	if !record.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, record.ExpiresAt)
	}

	if err := store.Delete("abc123"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, err := store.Get("abc123"); err != nil || ok {
		if err != nil {
			t.Fatalf("Get returned error after delete: %v", err)
		}
		t.Fatal("expected session to be gone after delete")
	}
}

func TestRedisStoreMissingKey(t *testing.T) {
	store, _ := newTestRedisStore(t)
	if _, ok, err := store.Get("missing"); err != nil || ok {
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		t.Fatal("expected missing session to report absent without error")
	}
}

func TestRedisStoreExpiresViaTTL(t *testing.T) {
	store, server := newTestRedisStore(t)
	now := time.Now()
	if err := store.Save("short", RoleViewer, now, now.Add(time.Second)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	server.FastForward(2 * time.Second)
	if _, ok, err := store.Get("short"); err != nil || ok {
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		t.Fatal("expected session to expire with its key TTL")
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisSessionStore(client, WithKeyPrefix("custom:"))
	if err != nil {
		t.Fatalf("NewRedisSessionStore returned error: %v", err)
	}
	now := time.Now()
	if err := store.Save("token", RoleViewer, now, now.Add(time.Minute)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !server.Exists("custom:token") {
		t.Fatal("expected key under the custom prefix")
	}
}

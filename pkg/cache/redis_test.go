package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// setupRedisClientTest creates a miniredis instance and returns the client and cleanup function
func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	config := Config{
		RedisURL:      "redis://" + mr.Addr(),
		RedisDB:       0,
		RedisPoolSize: 10,
		L1Size:        64,
		TTL:           time.Hour,
	}

	client, err := NewRedisClient(config)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestNewRedisClient_Success(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	if client == nil {
		t.Fatal("Expected client to be non-nil")
	}

	if client.client == nil {
		t.Fatal("Expected underlying redis client to be non-nil")
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	config := Config{
		RedisURL: "invalid://url",
	}

	_, err := NewRedisClient(config)
	if err == nil {
		t.Fatal("Expected error for invalid Redis URL")
	}
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	config := Config{
		RedisURL: "redis://localhost:9999", // Non-existent server
	}

	_, err := NewRedisClient(config)
	if err == nil {
		t.Fatal("Expected connection error")
	}
}

func TestRedisClient_GetSetDel(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()

	// Miss on empty cache
	_, ok, err := client.Get(ctx, "plan:1")
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if ok {
		t.Error("Get() expected cache miss")
	}

	if err := client.Set(ctx, "plan:1", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Set() unexpected error = %v", err)
	}

	data, ok, err := client.Get(ctx, "plan:1")
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if !ok {
		t.Fatal("Get() expected cache hit")
	}
	if data != `{"id":1}` {
		t.Errorf("Get() = %v, want {\"id\":1}", data)
	}

	if err := client.Del(ctx, "plan:1"); err != nil {
		t.Fatalf("Del() unexpected error = %v", err)
	}

	_, ok, err = client.Get(ctx, "plan:1")
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if ok {
		t.Error("Get() expected miss after Del")
	}
}

func TestRedisClient_InvalidatePatterns(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()

	client.Set(ctx, "plans:available:1", []byte("[]"))
	client.Set(ctx, "plans:available:2", []byte("[]"))
	client.Set(ctx, "plan:5", []byte("{}"))

	if err := client.InvalidatePatterns(ctx, "plans:available:*"); err != nil {
		t.Fatalf("InvalidatePatterns() unexpected error = %v", err)
	}

	_, ok, _ := client.Get(ctx, "plans:available:1")
	if ok {
		t.Error("expected plans:available:1 to be invalidated")
	}
	_, ok, _ = client.Get(ctx, "plans:available:2")
	if ok {
		t.Error("expected plans:available:2 to be invalidated")
	}
	_, ok, _ = client.Get(ctx, "plan:5")
	if !ok {
		t.Error("expected plan:5 to survive pattern invalidation")
	}
}

func TestRedisClient_SetNX(t *testing.T) {
	client, _, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()

	acquired, err := client.SetNX(ctx, "lock:sweep", "1", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() unexpected error = %v", err)
	}
	if !acquired {
		t.Error("SetNX() expected to acquire lock")
	}

	acquired, err = client.SetNX(ctx, "lock:sweep", "1", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() unexpected error = %v", err)
	}
	if acquired {
		t.Error("SetNX() expected lock to already be held")
	}
}

package statusstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client, skipping when no local
// Redis is available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testStatus(id string) exchange.Status {
	return exchange.Status{
		ID:              id,
		BufferedPages:   2,
		BufferedBytes:   48,
		NoMoreLocations: true,
		Locations: []exchange.LocationStatus{{
			Location:          "http://worker-a:8080/v1/buffers/q/0",
			State:             "running",
			PagesReceived:     3,
			RequestsScheduled: 2,
			RequestsCompleted: 1,
			RequestState:      "running",
		}},
	}
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil redis client")
		}
	}()
	NewStore(nil, "test", 0)
}

func TestNewStore_DefaultTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewStore(client, "test", 0)
	if store.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}
}

func TestStore_PutAndGet(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test", time.Minute)
	ctx := context.Background()

	status := testStatus("exchange-1")
	if err := store.Put(ctx, status); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry, err := store.Get(ctx, "exchange-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Status.ID != status.ID || entry.Status.BufferedBytes != 48 {
		t.Errorf("Status = %+v, want %+v", entry.Status, status)
	}
	if len(entry.Status.Locations) != 1 || entry.Status.Locations[0].PagesReceived != 3 {
		t.Errorf("Locations = %+v", entry.Status.Locations)
	}
	if entry.IsExpired() {
		t.Error("fresh entry is expired")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test", time.Minute)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_PutRequiresID(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test", time.Minute)
	if err := store.Put(context.Background(), exchange.Status{}); err == nil {
		t.Error("Put() without id expected error")
	}
}

func TestStore_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, "test", time.Minute)
	ctx := context.Background()

	key := Key{Namespace: "test", ExchangeID: "broken"}
	if err := client.Set(ctx, key.String(), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Get(ctx, "broken"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test", time.Minute)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, testStatus(id)); err != nil {
			t.Fatalf("Put(%s) error = %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 3 || ids[0] != "c" {
		t.Errorf("List() = %v, want [c b a]", ids)
	}

	if err := store.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ids, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("List() after delete = %v, want 2 ids", ids)
	}
	if _, err := store.Get(ctx, "c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_Namespaces(t *testing.T) {
	client := setupTestRedis(t)
	prod := NewStore(client, "prod", time.Minute)
	staging := NewStore(client, "staging", time.Minute)
	ctx := context.Background()

	if err := prod.Put(ctx, testStatus("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := staging.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("staging Get() error = %v, want ErrNotFound", err)
	}
}

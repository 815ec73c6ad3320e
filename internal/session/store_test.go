package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store on a local Redis instance under a dedicated
// server name. Tests that call this helper require a running Redis on
// localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	store := NewStoreWithClient(client, "test_"+t.Name())
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	t.Cleanup(func() {
		store.Reset(ctx)
		client.Close()
	})
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_s1", "192.0.2.1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	sess, err := store.Get(ctx, "test_s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.Address != "192.0.2.1" {
		t.Errorf("expected address %q, got %q", "192.0.2.1", sess.Address)
	}
	if sess.Server != "test_"+t.Name() {
		t.Errorf("expected server %q, got %q", "test_"+t.Name(), sess.Server)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}

func TestOnlineCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"test_a", "test_b", "test_c"} {
		if err := store.Create(ctx, id, "192.0.2.2"); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	if err := store.Delete(ctx, "test_b"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	n, err := store.Online(ctx)
	if err != nil {
		t.Fatalf("Online() error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 online, got %d", n)
	}

	if sess, _ := store.Get(ctx, "test_b"); sess != nil {
		t.Errorf("expected test_b to be gone, got %+v", sess)
	}
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Create(ctx, "test_r1", "192.0.2.3")
	_ = store.Create(ctx, "test_r2", "192.0.2.3")

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if n, _ := store.Online(ctx); n != 0 {
		t.Errorf("expected 0 online after reset, got %d", n)
	}
	if sess, _ := store.Get(ctx, "test_r1"); sess != nil {
		t.Errorf("expected test_r1 to be gone, got %+v", sess)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Create(ctx, "test_t1", "192.0.2.4")
	if err := store.Client().Expire(ctx, SessionPrefix+"test_t1", time.Minute).Err(); err != nil {
		t.Fatalf("Expire() error: %v", err)
	}

	if err := store.Refresh(ctx, "test_t1", "test_unknown"); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	ttl, err := store.Client().TTL(ctx, SessionPrefix+"test_t1").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= time.Minute {
		t.Errorf("expected TTL above 1m after refresh, got %s", ttl)
	}
	if err := store.Refresh(ctx); err != nil {
		t.Errorf("Refresh() with no ids: %v", err)
	}
}

package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisTestClient(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	return client
}

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := redisTestClient(t, ctx)
	defer client.Close()

	store, err := NewRedisStore(client, WithPrefix("it:"))
	if err != nil {
		t.Fatalf("Failed to create RedisStore: %v", err)
	}

	t.Run("BasicFlow", func(t *testing.T) {
		id := Identity{Namespace: "it", Key: fmt.Sprintf("basic_%d", time.Now().UnixNano())}
		rule := Rule{Pattern: "/api/checkout", Requests: 3, Window: time.Minute}

		for i, want := range []int{2, 1, 0} {
			res, err := store.Take(ctx, id, rule)
			if err != nil {
				t.Fatalf("Take failed: %v", err)
			}
			if !res.Allowed {
				t.Fatalf("Request %d was unexpectedly denied", i+1)
			}
			if res.Remaining != want {
				t.Errorf("Request %d: expected remaining %d, got %d", i+1, want, res.Remaining)
			}
			if res.EntryID == "" {
				t.Error("Allowed result must carry an entry id")
			}
		}

		res, err := store.Take(ctx, id, rule)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed {
			t.Error("4th request should have been denied")
		}
		if res.RetryAfter != 60 {
			t.Errorf("Expected retryAfter 60 on first violation, got %d", res.RetryAfter)
		}

		// Second denial escalates the backoff multiplier.
		res, err = store.Take(ctx, id, rule)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed {
			t.Error("5th request should have been denied")
		}
		if res.BackoffMultiplier != 2 {
			t.Errorf("Expected multiplier 2 on second denial, got %d", res.BackoffMultiplier)
		}
		if res.RetryAfter != 120 {
			t.Errorf("Expected retryAfter 120 on second denial, got %d", res.RetryAfter)
		}
	})

	t.Run("SharedState", func(t *testing.T) {
		id := Identity{Namespace: "it", Key: fmt.Sprintf("shared_%d", time.Now().UnixNano())}
		rule := Rule{Pattern: "/api/checkout", Requests: 1, Window: time.Minute}

		// Instance A consumes the only slot.
		storeA, _ := NewRedisStore(client, WithPrefix("it:"))
		if res, err := storeA.Take(ctx, id, rule); err != nil || !res.Allowed {
			t.Fatalf("Instance A should be allowed: %+v err=%v", res, err)
		}

		// Instance B must observe it.
		storeB, _ := NewRedisStore(client, WithPrefix("it:"))
		res, err := storeB.Take(ctx, id, rule)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed {
			t.Error("Instance B should see the slot consumed by instance A")
		}
	})

	t.Run("ForgetRefundsSlot", func(t *testing.T) {
		id := Identity{Namespace: "it", Key: fmt.Sprintf("forget_%d", time.Now().UnixNano())}
		rule := Rule{Pattern: "/api/webhook", Requests: 1, Window: time.Minute}

		res, err := store.Take(ctx, id, rule)
		if err != nil || !res.Allowed {
			t.Fatalf("Setup take failed: %+v err=%v", res, err)
		}
		if err := store.Forget(ctx, id, res.EntryID); err != nil {
			t.Fatalf("Forget failed: %v", err)
		}
		if res, _ := store.Take(ctx, id, rule); !res.Allowed {
			t.Error("Expected the refunded slot to admit another request")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		id := Identity{Namespace: "it", Key: fmt.Sprintf("reset_%d", time.Now().UnixNano())}
		rule := Rule{Pattern: "/api/checkout", Requests: 1, Window: time.Minute}

		store.Take(ctx, id, rule)
		if res, _ := store.Take(ctx, id, rule); res.Allowed {
			t.Fatal("Expected denial before reset")
		}
		if err := store.Reset(ctx, id); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		if res, _ := store.Take(ctx, id, rule); !res.Allowed {
			t.Error("Expected fresh budget after reset")
		}
	})

	t.Run("ViolationsClearOnAllow", func(t *testing.T) {
		id := Identity{Namespace: "it", Key: fmt.Sprintf("clear_%d", time.Now().UnixNano())}
		rule := Rule{Pattern: "/api/search", Requests: 2, Window: time.Second}

		store.Take(ctx, id, rule)
		store.Take(ctx, id, rule)
		if res, _ := store.Take(ctx, id, rule); res.Allowed {
			t.Fatal("Expected denial while window is full")
		}

		time.Sleep(1100 * time.Millisecond)
		res, _ := store.Take(ctx, id, rule)
		if !res.Allowed {
			t.Fatal("Expected allowance after window rollover")
		}

		// The violation counter was cleared by the accepted request.
		exists, err := client.Exists(ctx, store.violationKey(id)).Result()
		if err != nil {
			t.Fatal(err)
		}
		if exists != 0 {
			t.Error("Expected the violation counter to be deleted on allowance")
		}
	})
}

func TestRedisStore_ContextCancellation(t *testing.T) {
	setup, cancelSetup := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSetup()
	client := redisTestClient(t, setup)
	defer client.Close()

	store, err := NewRedisStore(client)
	if err != nil {
		t.Fatalf("Failed to create RedisStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := Identity{Namespace: "it", Key: "cancelled"}
	rule := Rule{Pattern: "/api/products", Requests: 10, Window: time.Minute}

	if _, err := store.Take(ctx, id, rule); err == nil {
		t.Fatal("Expected an error from a cancelled context, got nil")
	}
}

func TestNewRedisStore_ProbeFailure(t *testing.T) {
	// A port nothing listens on: the construction-time probe must fail so
	// the engine can fall back to local-only evaluation.
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	if _, err := NewRedisStore(client, WithTimeout(200*time.Millisecond)); err == nil {
		t.Fatal("Expected the liveness probe to fail against a dead address")
	}
}

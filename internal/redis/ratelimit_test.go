package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := Wrap(rdb, zap.NewNop())

	return client, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "test-key", 5, time.Minute)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "test-key", 3, time.Minute)
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "test-key", 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "key-a", 2, time.Minute)
	}

	result, _ := limiter.Allow(ctx, "key-b", 2, time.Minute)
	if !result.Allowed {
		t.Fatal("key-b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop())
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "test-key", 10, time.Minute, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("should be allowed")
	}
	if result.Remaining != 5 {
		t.Errorf("expected remaining 5, got %d", result.Remaining)
	}

	result, _ = limiter.AllowN(ctx, "test-key", 10, time.Minute, 6)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if r, _ := limiter.Allow(ctx, "slide", 2, time.Minute); !r.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if r, _ := limiter.Allow(ctx, "slide", 2, time.Minute); r.Allowed {
		t.Fatal("third request inside the window should be blocked")
	}

	now = now.Add(61 * time.Second)
	if r, _ := limiter.Allow(ctx, "slide", 2, time.Minute); !r.Allowed {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiter_AllowDeliveryHourly(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := limiter.AllowDelivery(ctx, "owner-1", 3, 50)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if !r.Allowed {
			t.Fatalf("delivery %d should be allowed", i)
		}
	}

	r, err := limiter.AllowDelivery(ctx, "owner-1", 3, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Allowed || r.Window != WindowHour {
		t.Fatalf("expected hourly rejection, got %+v", r)
	}

	other, _ := limiter.AllowDelivery(ctx, "owner-2", 3, 50)
	if !other.Allowed {
		t.Error("limits are per owner")
	}

	now = now.Add(time.Hour + time.Second)
	r, _ = limiter.AllowDelivery(ctx, "owner-1", 3, 50)
	if !r.Allowed {
		t.Error("hourly window should have slid")
	}
}

func TestRateLimiter_AllowDeliveryDaily(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if r, _ := limiter.AllowDelivery(ctx, "owner-1", 10, 4); !r.Allowed {
			t.Fatalf("delivery %d should be allowed", i)
		}
		now = now.Add(2 * time.Hour)
	}

	r, _ := limiter.AllowDelivery(ctx, "owner-1", 10, 4)
	if r.Allowed || r.Window != WindowDay {
		t.Fatalf("expected daily rejection, got %+v", r)
	}
}

func TestRateLimiter_AllowDeliveryRejectionNotRecorded(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	limiter.AllowDelivery(ctx, "owner-1", 1, 2)
	for i := 0; i < 5; i++ {
		if r, _ := limiter.AllowDelivery(ctx, "owner-1", 1, 2); r.Allowed {
			t.Fatal("hourly limit of 1 should reject")
		}
	}

	now = now.Add(90 * time.Minute)
	if r, _ := limiter.AllowDelivery(ctx, "owner-1", 1, 2); !r.Allowed {
		t.Fatal("rejected attempts must not count against the daily window")
	}
}

func TestRateLimiter_AllowDeliveryConcurrent(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := limiter.AllowDelivery(ctx, "owner-1", 5, 50)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if r.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected exactly 5 concurrent sends allowed, got %d", got)
	}
	if n, _ := client.rdb.ZCard(ctx, "ratelimit:delivery:{owner-1}:day").Result(); n != 5 {
		t.Errorf("expected 5 sends recorded in the daily window, got %d", n)
	}
}

func TestRateLimiter_AllowDeliveryRemaining(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(client, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	r, err := limiter.AllowDelivery(ctx, "owner-1", 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Allowed || r.Remaining != 2 {
		t.Errorf("daily limit is tighter, want remaining 2, got %+v", r)
	}

	r, _ = limiter.AllowDelivery(ctx, "owner-2", 0, 0)
	if !r.Allowed || r.Remaining != 0 {
		t.Errorf("disabled limits always allow, got %+v", r)
	}
}

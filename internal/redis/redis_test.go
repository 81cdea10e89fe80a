package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return NewFromClient(rdb, zap.NewNop()), mr
}

func TestLocker_SingleHolder(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "alert-scan", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := locker.Acquire(ctx, "alert-scan", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, ok, err := locker.Acquire(ctx, "alert-scan", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	staleRelease, ok, _ := locker.Acquire(ctx, "alert-scan", time.Second)
	if !ok {
		t.Fatal("expected first acquire")
	}

	mr.FastForward(2 * time.Second)

	_, ok, _ = locker.Acquire(ctx, "alert-scan", time.Minute)
	if !ok {
		t.Fatal("expected acquire after expiry")
	}

	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists("lock:alert-scan") {
		t.Fatal("stale holder must not delete the new holder's lock")
	}
}

func TestAlertMarks_ClaimOncePerDay(t *testing.T) {
	client, mr := setupTestRedis(t)
	marks := NewAlertMarks(client, zap.NewNop())
	ctx := context.Background()
	day := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	ok, err := marks.Claim(ctx, "lic-1", day)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	ok, _ = marks.Claim(ctx, "lic-1", day.Add(3*time.Hour))
	if ok {
		t.Fatal("same-day claim should be refused")
	}

	ok, _ = marks.Claim(ctx, "lic-1", day.AddDate(0, 0, 1))
	if !ok {
		t.Fatal("next-day claim should succeed")
	}

	if ttl := mr.TTL("alertmark:lic-1:2026-04-02"); ttl != AlertMarkTTL {
		t.Errorf("expected ttl %s, got %s", AlertMarkTTL, ttl)
	}

	if err := marks.Release(ctx, "lic-1", day); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = marks.Claim(ctx, "lic-1", day)
	if !ok {
		t.Fatal("claim after release should succeed")
	}
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 5, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "10.0.0.1")
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
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "10.0.0.1")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}

	other, _ := limiter.Allow(ctx, "10.0.0.2")
	if !other.Allowed {
		t.Fatal("other clients have their own window")
	}
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewLimiter(rdb)
}

func TestLimiter_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	result, err := l.Check(context.Background(), "test:key", 60, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Remaining != 59 {
		t.Errorf("expected remaining=59, got %d", result.Remaining)
	}
}

func TestLimiter_NilRedis_MultipleChecks(t *testing.T) {
	l := NewLimiter(nil)
	// Without Redis, every check passes (fail open)
	for i := 0; i < 100; i++ {
		result, _ := l.Check(context.Background(), "test:key", 10, time.Minute)
		if !result.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	_, l := newRedisLimiter(t)
	base := time.Unix(1_800_000_000, 0)
	now := base
	l.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		res, err := l.Check(context.Background(), "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("check %d should be allowed", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("check %d: remaining=%d", i, res.Remaining)
		}
		now = now.Add(10 * time.Second)
	}

	// Fourth request at +30s is denied until the first one ages out at +60s.
	res, _ := l.Check(context.Background(), "k", 3, time.Minute)
	if res.Allowed {
		t.Fatal("fourth request should be denied")
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", res.RetryAfter)
	}
	if !res.ResetAt.Equal(base.Add(time.Minute)) {
		t.Errorf("reset at = %v", res.ResetAt)
	}

	now = base.Add(61 * time.Second)
	res, _ = l.Check(context.Background(), "k", 3, time.Minute)
	if !res.Allowed {
		t.Error("request after the oldest aged out should be allowed")
	}
}

func TestLimiter_SeparateBuckets(t *testing.T) {
	_, l := newRedisLimiter(t)
	if res, _ := l.Check(context.Background(), "a", 1, time.Minute); !res.Allowed {
		t.Fatal("a should be allowed")
	}
	if res, _ := l.Check(context.Background(), "b", 1, time.Minute); !res.Allowed {
		t.Fatal("b has its own bucket")
	}
	if res, _ := l.Check(context.Background(), "a", 1, time.Minute); res.Allowed {
		t.Fatal("a is exhausted")
	}
}

func TestLimiter_RedisDown_FailOpen(t *testing.T) {
	mr, l := newRedisLimiter(t)
	mr.SetError("LOADING redis is loading")
	res, err := l.Check(context.Background(), "k", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Errorf("expected fail open, got %+v %v", res, err)
	}
}

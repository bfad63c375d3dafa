package limiter

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestMemory(now *time.Time) *Memory {
	m := NewMemory(rate.Every(time.Minute), 2, 5*time.Minute, 3, 10*time.Minute)
	m.now = func() time.Time { return *now }
	return m
}

func TestMemory_RateBucket(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	m := newTestMemory(&now)
	ctx := context.Background()
	h := HashClient("10.0.0.1:1")

	for i := 0; i < 2; i++ {
		if ok, _, _ := m.Allow(ctx, "s1", h); !ok {
			t.Fatalf("burst call %d must pass", i)
		}
	}
	ok, wait, err := m.Allow(ctx, "s1", h)
	if err != nil || ok || wait <= 0 || wait > time.Minute {
		t.Fatalf("third call: ok=%v wait=%v err=%v", ok, wait, err)
	}

	if ok, _, _ := m.Allow(ctx, "s2", h); !ok {
		t.Fatalf("other scanner has its own bucket")
	}

	now = now.Add(time.Minute)
	if ok, _, _ := m.Allow(ctx, "s1", h); !ok {
		t.Fatalf("token must refill after a minute")
	}
}

func TestMemory_FailureLockout(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	m := newTestMemory(&now)
	ctx := context.Background()
	h := HashClient("10.0.0.2:1")

	for i := 0; i < 2; i++ {
		if blocked, _, _ := m.Failure(ctx, "s", h); blocked {
			t.Fatalf("failure %d must not block", i)
		}
	}
	blocked, d, err := m.Failure(ctx, "s", h)
	if err != nil || !blocked || d != 10*time.Minute {
		t.Fatalf("third failure: blocked=%v d=%v err=%v", blocked, d, err)
	}
	if ok, wait, _ := m.Allow(ctx, "s", h); ok || wait != 10*time.Minute {
		t.Fatalf("blocked client allowed: ok=%v wait=%v", ok, wait)
	}

	if err := m.Success(ctx, "s", h); err != nil {
		t.Fatalf("success: %v", err)
	}
	if ok, _, _ := m.Allow(ctx, "s", h); !ok {
		t.Fatalf("success must lift the block")
	}
}

func TestMemory_FailureWindowResets(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	m := newTestMemory(&now)
	ctx := context.Background()
	h := HashClient("10.0.0.3:1")

	_, _, _ = m.Failure(ctx, "s", h)
	_, _, _ = m.Failure(ctx, "s", h)
	now = now.Add(6 * time.Minute)
	if blocked, _, _ := m.Failure(ctx, "s", h); blocked {
		t.Fatalf("failures outside the window must not accumulate")
	}
}

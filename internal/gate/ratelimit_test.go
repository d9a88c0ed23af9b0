package gate

import (
	"sync"
	"testing"
	"time"
)

func TestLimiterCeiling(t *testing.T) {
	l := NewLimiter(3)
	now := time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res := l.TryConsume("acme", now)
		if !res.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if want := 3 - (i + 1); res.Remaining != want {
			t.Fatalf("attempt %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res := l.TryConsume("acme", now)
	if res.Allowed {
		t.Fatal("fourth attempt must be denied")
	}
	if want := now.Truncate(time.Hour).Add(time.Hour); !res.ResetAt.Equal(want) {
		t.Fatalf("resetAt = %s, want %s", res.ResetAt, want)
	}

	// Denied attempts must not consume budget in the next window.
	next := now.Add(time.Hour)
	if res := l.TryConsume("acme", next); !res.Allowed || res.Remaining != 2 {
		t.Fatalf("fresh window: allowed=%v remaining=%d", res.Allowed, res.Remaining)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l := NewLimiter(1)
	now := time.Date(2025, 3, 10, 10, 59, 0, 0, time.UTC)

	if res := l.TryConsume("acme", now); !res.Allowed {
		t.Fatal("first attempt should pass")
	}
	if res := l.TryConsume("acme", now.Add(30*time.Second)); res.Allowed {
		t.Fatal("same window must deny")
	}
	if res := l.TryConsume("acme", now.Add(2*time.Minute)); !res.Allowed {
		t.Fatal("new hour window must allow again")
	}
}

func TestLimiterTenantsIsolated(t *testing.T) {
	l := NewLimiter(1)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	if res := l.TryConsume("acme", now); !res.Allowed {
		t.Fatal("acme should pass")
	}
	if res := l.TryConsume("globex", now); !res.Allowed {
		t.Fatal("globex has its own budget")
	}
	if res := l.TryConsume("acme", now); res.Allowed {
		t.Fatal("acme budget is spent")
	}
}

func TestLimiterConcurrentNeverOversells(t *testing.T) {
	const ceiling = 10
	l := NewLimiter(ceiling)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryConsume("acme", now).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != ceiling {
		t.Fatalf("allowed %d attempts, want exactly %d", allowed, ceiling)
	}
}

func TestLimiterZeroCeilingUsesDefault(t *testing.T) {
	l := NewLimiter(0)
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	res := l.TryConsume("acme", now)
	if !res.Allowed || res.Remaining != DefaultRateCeiling-1 {
		t.Fatalf("allowed=%v remaining=%d, want default ceiling", res.Allowed, res.Remaining)
	}
}

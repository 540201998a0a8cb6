package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLocalLimiterSlidingWindow(t *testing.T) {
	limiter, err := NewLocalLimiter(60*time.Second, 5)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter.Now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}

	decision, err := limiter.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected 6th request to be rejected")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("expected retry-after hint, got %s", decision.RetryAfter)
	}

	current = current.Add(61 * time.Second)
	decision, err = limiter.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected request after window elapse to be allowed")
	}
}

func TestLocalLimiterIsolatesIdentities(t *testing.T) {
	limiter, _ := NewLocalLimiter(time.Minute, 1)
	ctx := context.Background()

	if decision, _ := limiter.Allow(ctx, "client-a"); !decision.Allowed {
		t.Fatal("expected first client-a request to pass")
	}
	if decision, _ := limiter.Allow(ctx, "client-a"); decision.Allowed {
		t.Fatal("expected second client-a request to be rejected")
	}
	if decision, _ := limiter.Allow(ctx, "client-b"); !decision.Allowed {
		t.Fatal("expected client-b to have its own window")
	}
}

func TestLocalLimiterPurgesExpiredIdentities(t *testing.T) {
	limiter, _ := NewLocalLimiter(time.Second, 10)
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter.Now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < 64; i++ {
		if _, err := limiter.Allow(ctx, fmt.Sprintf("client-%d", i)); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	if limiter.Len() != 64 {
		t.Fatalf("expected 64 tracked identities, got %d", limiter.Len())
	}

	current = current.Add(2 * time.Second)
	for i := 0; i < purgeEvery; i++ {
		if _, err := limiter.Allow(ctx, "active-client"); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	if got := limiter.Len(); got > 2 {
		t.Fatalf("expected expired identities purged, still tracking %d", got)
	}
}

func TestLocalLimiterConcurrentAccess(t *testing.T) {
	limiter, _ := NewLocalLimiter(time.Minute, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(ctx, "shared-client")
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("expected exactly 50 admitted requests, got %d", allowed)
	}
}

func TestIdentityHasherDeterministic(t *testing.T) {
	hasher := NewIdentityHasher("server-side-key")

	first := hasher.Hash("203.0.113.7")
	second := hasher.Hash("203.0.113.7")
	if first != second {
		t.Fatal("expected repeated hashes for the same client to collide")
	}
	if first == hasher.Hash("203.0.113.8") {
		t.Fatal("expected distinct clients to hash differently")
	}
	if first == "203.0.113.7" {
		t.Fatal("expected identity to be hashed, not cleartext")
	}

	other := NewIdentityHasher("different-key")
	if other.Hash("203.0.113.7") == first {
		t.Fatal("expected hash to depend on the server key")
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"203.0.113.7, 10.0.0.1", "10.0.0.9:4411", "203.0.113.7"},
		{"", "10.0.0.9:4411", "10.0.0.9"},
		{"  ", "198.51.100.4:80", "198.51.100.4"},
		{"", "no-port-host", "no-port-host"},
	}
	for _, tc := range cases {
		if got := ClientIP(tc.forwarded, tc.remoteAddr); got != tc.want {
			t.Fatalf("ClientIP(%q, %q) = %q, want %q", tc.forwarded, tc.remoteAddr, got, tc.want)
		}
	}
}

type stubLimiter struct {
	decision Decision
	err      error
	calls    int
}

func (s *stubLimiter) Allow(context.Context, string) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestFailoverLimiterPrefersPrimary(t *testing.T) {
	primary := &stubLimiter{decision: Decision{Allowed: false, RetryAfter: time.Second}}
	fallback := &stubLimiter{decision: Decision{Allowed: true}}
	limiter, err := NewFailoverLimiter(primary, fallback, nil)
	if err != nil {
		t.Fatalf("new failover limiter: %v", err)
	}

	decision, err := limiter.Allow(context.Background(), "id")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected primary rejection to stand")
	}
	if fallback.calls != 0 {
		t.Fatal("expected fallback to stay idle while primary is healthy")
	}
}

func TestFailoverLimiterDegradesOnPrimaryError(t *testing.T) {
	primary := &stubLimiter{err: fmt.Errorf("connection refused")}
	fallback := &stubLimiter{decision: Decision{Allowed: true, Remaining: 3}}
	limiter, _ := NewFailoverLimiter(primary, fallback, nil)

	decision, err := limiter.Allow(context.Background(), "id")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected fallback decision on primary failure")
	}
	if fallback.calls != 1 {
		t.Fatalf("expected one fallback call, got %d", fallback.calls)
	}
}

// Package ratelimit provides sliding-window admission control for the
// webhook ingress. Identities are keyed-hashed before use; backends are a
// local mutex-guarded map and a Redis store with an atomic window script.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of an admission check. RetryAfter is only set
// when Allowed is false.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for an already-hashed identity.
type Limiter interface {
	Allow(ctx context.Context, identity string) (Decision, error)
}

const purgeEvery = 128

// LocalLimiter is the single-instance fallback: per-identity timestamp
// lists behind one mutex. Every purgeEvery checks it sweeps identities
// whose window fully expired so the map stays bounded.
type LocalLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	entries map[string][]time.Time
	checks  int

	Now func() time.Time
}

func NewLocalLimiter(window time.Duration, maxRequests int) (*LocalLimiter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive")
	}
	if maxRequests <= 0 {
		return nil, fmt.Errorf("ratelimit: max requests must be positive")
	}
	return &LocalLimiter{
		window:      window,
		maxRequests: maxRequests,
		entries:     map[string][]time.Time{},
		Now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, identity string) (Decision, error) {
	if l == nil {
		return Decision{}, fmt.Errorf("ratelimit: local limiter is not initialized")
	}
	now := l.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%purgeEvery == 0 {
		l.purgeLocked(cutoff)
	}

	kept := l.entries[identity][:0]
	for _, stamp := range l.entries[identity] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}

	if len(kept) >= l.maxRequests {
		l.entries[identity] = kept
		retryAfter := kept[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	l.entries[identity] = append(kept, now)
	return Decision{Allowed: true, Remaining: l.maxRequests - len(kept) - 1}, nil
}

func (l *LocalLimiter) purgeLocked(cutoff time.Time) {
	for identity, stamps := range l.entries {
		live := false
		for _, stamp := range stamps {
			if stamp.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, identity)
		}
	}
}

// Len reports tracked identities; used to verify purge behavior.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

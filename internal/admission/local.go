package admission

import (
	"context"
	"log"
	"sync"
)

// LocalLimiter keeps per-tenant line counters in process memory. The
// check-and-increment runs inside one critical section, so the counter
// can never transiently exceed the limit.
type LocalLimiter struct {
	mu           sync.Mutex
	counts       map[string]int
	tenantLimits map[string]int
	defaultLimit int
}

func NewLocalLimiter(defaultLimit int) *LocalLimiter {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &LocalLimiter{
		counts:       make(map[string]int),
		tenantLimits: make(map[string]int),
		defaultLimit: defaultLimit,
	}
}

// SetTenantLimit overrides the line limit for one tenant, typically from
// the tenant's billing plan. A non-positive limit removes the override.
func (l *LocalLimiter) SetTenantLimit(tenantID string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		delete(l.tenantLimits, tenantID)
		return
	}
	l.tenantLimits[tenantID] = limit
}

func (l *LocalLimiter) TryAcquire(_ context.Context, tenantID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit := l.limitLocked(tenantID)
	if l.counts[tenantID] >= limit {
		return false, nil
	}
	l.counts[tenantID]++
	return true, nil
}

func (l *LocalLimiter) Release(_ context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[tenantID] <= 0 {
		log.Printf("admission: release below floor for tenant %s, clamping at zero", tenantID)
		delete(l.counts, tenantID)
		return nil
	}
	l.counts[tenantID]--
	if l.counts[tenantID] == 0 {
		delete(l.counts, tenantID)
	}
	return nil
}

func (l *LocalLimiter) ActiveCount(_ context.Context, tenantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[tenantID], nil
}

func (l *LocalLimiter) Limit(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(tenantID)
}

func (l *LocalLimiter) limitLocked(tenantID string) int {
	if limit, ok := l.tenantLimits[tenantID]; ok {
		return limit
	}
	return l.defaultLimit
}

func (l *LocalLimiter) Close() error { return nil }

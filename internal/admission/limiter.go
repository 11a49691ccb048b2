// Package admission gates how many calls a tenant may run concurrently.
// It is the only cross-call shared state in the relay; every acquire is a
// single atomic check-and-increment so two racing calls can never both
// claim the last line.
package admission

import "context"

// Limiter is the admission gate consumed by the session bridge.
type Limiter interface {
	// TryAcquire claims one line for the tenant. It never blocks waiting
	// for a free line: the result is immediate.
	TryAcquire(ctx context.Context, tenantID string) (bool, error)
	// Release returns one line. Safe to call at the floor; the counter
	// clamps at zero and the underflow is logged, not surfaced.
	Release(ctx context.Context, tenantID string) error
	// ActiveCount reports the tenant's current line usage for dashboards.
	ActiveCount(ctx context.Context, tenantID string) (int, error)
	// Limit reports the effective line limit for the tenant.
	Limit(tenantID string) int
	Close() error
}

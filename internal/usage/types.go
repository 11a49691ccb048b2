package usage

import (
	"context"
	"time"
)

// Record captures the billable shape of one completed call. The billing
// plane consumes these; the relay only writes them.
type Record struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	BotID       string    `json:"bot_id"`
	CallID      string    `json:"call_id"`
	PhoneNumber string    `json:"phone_number"`
	Direction   string    `json:"direction"`
	Seconds     int       `json:"seconds"`
	StartedAt   time.Time `json:"started_at"`
}

// Store persists and reads back usage counters.
type Store interface {
	SaveCall(ctx context.Context, rec Record) error
	RecentCalls(ctx context.Context, tenantID string, limit int) ([]Record, error)
	Close() error
}

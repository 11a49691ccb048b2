package engine

import (
	"context"
	"sync"

	"github.com/voiceomni/linebridge/internal/audio"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/tools"
)

// MockProvider serves sessions from memory. It backs the server when no
// engine credentials are configured, and the tests.
type MockProvider struct {
	mu      sync.Mutex
	opened  int
	last    *MockSession
	OpenErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Open(_ context.Context, _ bot.RuntimeConfig) (Session, <-chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return nil, nil, p.OpenErr
	}
	p.opened++
	s := &MockSession{events: make(chan Event, 64)}
	p.last = s
	return s, s.events, nil
}

func (p *MockProvider) OpenedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// LastSession returns the most recently opened session, or nil.
func (p *MockProvider) LastSession() *MockSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type MockSession struct {
	mu          sync.Mutex
	closed      bool
	sentAudio   []audio.Frame
	sentTexts   []string
	toolBatches [][]tools.Result
	events      chan Event
}

func (s *MockSession) SendAudio(_ context.Context, f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentAudio = append(s.sentAudio, f)
	return nil
}

func (s *MockSession) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentTexts = append(s.sentTexts, text)
	return nil
}

func (s *MockSession) SendToolResponse(_ context.Context, results []tools.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolBatches = append(s.toolBatches, results)
	return nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Emit delivers a scripted event to the session's consumer.
func (s *MockSession) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSession) SentAudio() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

func (s *MockSession) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentTexts))
	copy(out, s.sentTexts)
	return out
}

func (s *MockSession) ToolBatches() [][]tools.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]tools.Result, len(s.toolBatches))
	copy(out, s.toolBatches)
	return out
}

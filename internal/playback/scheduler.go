// Package playback paces engine audio out to the caller. The engine
// produces speech in bursts much faster than real time; the scheduler
// keeps a timeline cursor and releases each chunk when its slot comes up,
// so barge-in can discard everything not yet spoken.
package playback

import (
	"sync"
	"time"

	"github.com/voiceomni/linebridge/internal/audio"
)

// startSafetyMargin keeps the first chunk of a new utterance from being
// scheduled in the past when the cursor has fallen behind the clock.
const startSafetyMargin = 50 * time.Millisecond

// Sink receives a frame when its scheduled playback slot arrives.
type Sink func(audio.Frame)

// Scheduler serializes engine audio onto a wall-clock timeline.
type Scheduler struct {
	mu        sync.Mutex
	sink      Sink
	now       func() time.Time
	nextStart time.Time
	gen       uint64
	nextID    uint64
	timers    map[uint64]*time.Timer
	closed    bool
}

func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{
		sink:   sink,
		now:    time.Now,
		timers: make(map[uint64]*time.Timer),
	}
}

// Enqueue schedules f after everything already queued. A frame whose slot
// is already due fires immediately; otherwise it waits for its turn.
func (s *Scheduler) Enqueue(f audio.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	now := s.now()
	start := s.nextStart
	if start.Before(now) {
		// Only a cursor that fell behind the clock gets the margin; a
		// cursor at or ahead of now is already gap-free.
		start = now.Add(startSafetyMargin)
	}
	s.nextStart = start.Add(f.Duration())

	gen := s.gen
	id := s.nextID
	s.nextID++

	delay := start.Sub(now)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.deliver(id, gen, f)
	})
	s.mu.Unlock()
}

func (s *Scheduler) deliver(id, gen uint64, f audio.Frame) {
	s.mu.Lock()
	delete(s.timers, id)
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	sink := s.sink
	s.mu.Unlock()

	sink(f)
}

// Flush discards all pending audio and resets the cursor. Frames already
// delivered are unaffected; frames still waiting never fire.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.gen++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.nextStart = s.now()
}

// Pending reports how many frames are queued but not yet delivered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all pending timers. The scheduler accepts no further frames.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Package engine talks to the realtime conversational speech backend.
// One Session is a duplex connection owned by exactly one call.
package engine

import (
	"context"

	"github.com/voiceomni/linebridge/internal/audio"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/tools"
)

type EventType string

const (
	// EventAudio carries one chunk of agent speech.
	EventAudio EventType = "audio"
	// EventInterrupted signals barge-in: the caller started talking over
	// the agent and queued agent speech must stop.
	EventInterrupted EventType = "interrupted"
	// EventToolCall carries a batch of function calls to dispatch.
	EventToolCall EventType = "tool_call"
	// EventTurnComplete marks the end of one agent turn.
	EventTurnComplete EventType = "turn_complete"
	// EventGoAway announces the server will drop the connection soon.
	EventGoAway EventType = "go_away"
	// EventError carries a session-fatal engine error.
	EventError EventType = "error"
)

// Event is one message from the engine's inbound stream.
type Event struct {
	Type        EventType
	AudioBase64 string
	SampleRate  int
	Invocations []tools.Invocation
	Code        string
	Detail      string
	Retryable   bool
}

// Session is one open duplex engine connection. Writer methods are safe
// for concurrent use; the event channel is closed when the engine side
// ends the session.
type Session interface {
	SendAudio(ctx context.Context, f audio.Frame) error
	SendText(ctx context.Context, text string) error
	SendToolResponse(ctx context.Context, results []tools.Result) error
	Close() error
}

// Provider opens engine sessions from a bot's runtime configuration.
type Provider interface {
	Open(ctx context.Context, cfg bot.RuntimeConfig) (Session, <-chan Event, error)
}

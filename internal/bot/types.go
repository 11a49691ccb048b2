package bot

import (
	"context"
	"errors"

	"github.com/voiceomni/linebridge/internal/tools"
)

var ErrNotFound = errors.New("bot not found")

// RuntimeConfig is the immutable configuration snapshot a call takes at
// session start. It is supplied by the management plane and never mutated
// by the relay.
type RuntimeConfig struct {
	BotID             string
	TenantID          string
	Name              string
	PhoneNumber       string
	Voice             string
	SystemInstruction string
	Greeting          string
	Tools             []tools.Declaration
}

// Store resolves bot runtime configuration for incoming calls.
type Store interface {
	RuntimeConfig(ctx context.Context, botID string) (RuntimeConfig, error)
	Close() error
}

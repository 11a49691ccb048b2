package bot

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// empty in-memory store the operator can seed.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

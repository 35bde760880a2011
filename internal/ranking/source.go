// Package ranking reads the external leaderboard and agent detail sources.
package ranking

import (
	"context"
	"errors"

	"agentboard/internal/domain"
)

// ErrUnexpectedShape is returned when a payload is neither a bare list nor a known wrapper.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// ErrAgentNotFound is returned by FetchAgent when the detail source has no such agent.
var ErrAgentNotFound = errors.New("agent not found")

// Source defines the upstream read interface.
type Source interface {
	// FetchLeaderboard returns the current ordered list in source order.
	FetchLeaderboard(ctx context.Context) ([]*domain.AgentRecord, error)

	// FetchAgent returns enrichment fields and recent posts for one agent.
	FetchAgent(ctx context.Context, username string) (*domain.AgentDetail, error)
}

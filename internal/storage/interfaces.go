package storage

import (
	"context"

	"agentboard/internal/domain"
)

// AgentFilter narrows GetCaptureAgents results.
type AgentFilter struct {
	Usernames []string // normalized usernames; empty means all
	MinScore  *float64
	Limit     int // 0 means no limit
}

// CaptureStore provides access to captures and their agent records.
type CaptureStore interface {
	// CreateCapture atomically inserts a capture and its agent records.
	// Either the capture row and all records become visible, or nothing does.
	// Returns ErrDuplicateKey if the capture ID or a (capture, username) pair exists.
	CreateCapture(ctx context.Context, c *domain.Capture, agents []*domain.AgentRecord) error

	// GetCapture retrieves a capture by ID. Returns ErrNotFound if not exists.
	GetCapture(ctx context.Context, captureID string) (*domain.Capture, error)

	// ListCaptures retrieves all captures, ordered by created_at DESC.
	ListCaptures(ctx context.Context) ([]*domain.Capture, error)

	// LatestCapture retrieves the newest capture. Returns ErrNotFound if none exist.
	LatestCapture(ctx context.Context) (*domain.Capture, error)

	// DeleteCapture removes a capture and cascades its agent records.
	// Returns ErrNotFound if not exists.
	DeleteCapture(ctx context.Context, captureID string) error

	// UpdateEnrichment overwrites the enrichment fields of one agent record.
	// Returns ErrNotFound if the record does not exist.
	UpdateEnrichment(ctx context.Context, r *domain.AgentRecord) error

	// GetCaptureAgents retrieves a capture's agents, ordered by rank ASC.
	GetCaptureAgents(ctx context.Context, captureID string, f AgentFilter) ([]*domain.AgentRecord, error)

	// GetAgentAcrossCaptures retrieves every record of one agent, ordered by captured_at ASC.
	GetAgentAcrossCaptures(ctx context.Context, username string) ([]*domain.AgentRecord, error)
}

// HistoryPointStore provides access to the agent_samples analytics mirror.
type HistoryPointStore interface {
	// InsertBulk adds multiple samples. Fails entire batch on duplicate (capture_id, username).
	InsertBulk(ctx context.Context, samples []*domain.AgentSample) error

	// GetByUsername retrieves all samples of one agent, ordered by captured_at ASC.
	GetByUsername(ctx context.Context, username string) ([]*domain.AgentSample, error)

	// DeleteByCapture removes all samples of a capture.
	DeleteByCapture(ctx context.Context, captureID string) error
}

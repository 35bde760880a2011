package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"agentboard/internal/domain"
	"agentboard/internal/storage"
)

// HistoryPointStore implements storage.HistoryPointStore using ClickHouse.
type HistoryPointStore struct {
	conn *Conn
}

// NewHistoryPointStore creates a new HistoryPointStore.
func NewHistoryPointStore(conn *Conn) *HistoryPointStore {
	return &HistoryPointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistoryPointStore = (*HistoryPointStore)(nil)

// InsertBulk adds multiple samples. Fails entire batch on duplicate (capture_id, username).
func (s *HistoryPointStore) InsertBulk(ctx context.Context, samples []*domain.AgentSample) error {
	if len(samples) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		captureID string
		username  string
	}
	seen := make(map[key]struct{}, len(samples))
	for _, p := range samples {
		if p == nil || p.CaptureID == "" || p.Username == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.CaptureID, domain.NormalizeUsername(p.Username)}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness; a capture is mirrored exactly once.
	for captureID := range captureIDs(samples) {
		exists, err := s.captureExists(ctx, captureID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO agent_samples (
			capture_id, username, captured_at, score, rank,
			followers, likes, retweets, replies
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		err = batch.Append(
			p.CaptureID, domain.NormalizeUsername(p.Username), p.CapturedAt.UTC(),
			p.Score, int32(p.Rank),
			p.Followers, p.Likes, p.Retweets, p.Replies,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByUsername retrieves all samples of one agent, ordered by captured_at ASC.
func (s *HistoryPointStore) GetByUsername(ctx context.Context, username string) ([]*domain.AgentSample, error) {
	query := `
		SELECT capture_id, username, captured_at, score, rank,
			followers, likes, retweets, replies
		FROM agent_samples FINAL
		WHERE username = ?
		ORDER BY captured_at ASC, capture_id ASC
	`

	rows, err := s.conn.Query(ctx, query, domain.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("query by username: %w", err)
	}
	defer rows.Close()

	return scanAgentSamples(rows)
}

// DeleteByCapture removes all samples of a capture.
// Uses a synchronous mutation so a replacement capture never sees stale rows.
func (s *HistoryPointStore) DeleteByCapture(ctx context.Context, captureID string) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	err := s.conn.Exec(ctx, `ALTER TABLE agent_samples DELETE WHERE capture_id = ?`, captureID)
	if err != nil {
		return fmt.Errorf("delete samples by capture: %w", err)
	}
	return nil
}

// captureExists checks if any sample of the capture exists.
func (s *HistoryPointStore) captureExists(ctx context.Context, captureID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM agent_samples WHERE capture_id = ?`, captureID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func captureIDs(samples []*domain.AgentSample) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, p := range samples {
		ids[p.CaptureID] = struct{}{}
	}
	return ids
}

// scanAgentSamples scans multiple rows.
func scanAgentSamples(rows chRows) ([]*domain.AgentSample, error) {
	var samples []*domain.AgentSample

	for rows.Next() {
		var p domain.AgentSample
		var capturedAt time.Time
		var rank int32

		err := rows.Scan(
			&p.CaptureID, &p.Username, &capturedAt, &p.Score, &rank,
			&p.Followers, &p.Likes, &p.Retweets, &p.Replies,
		)
		if err != nil {
			return nil, fmt.Errorf("scan agent sample row: %w", err)
		}

		p.CapturedAt = capturedAt.UTC()
		p.Rank = int(rank)
		samples = append(samples, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent sample rows: %w", err)
	}

	return samples, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agentboard/internal/domain"
	"agentboard/internal/idhash"
	"agentboard/internal/storage"
)

// CaptureStore implements storage.CaptureStore using PostgreSQL.
type CaptureStore struct {
	pool *Pool
}

// NewCaptureStore creates a new CaptureStore.
func NewCaptureStore(pool *Pool) *CaptureStore {
	return &CaptureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CaptureStore = (*CaptureStore)(nil)

const agentColumns = `
	record_id, capture_id, username, score, rank,
	followers, likes, retweets, replies,
	bio, wallet_address, wallet_balance, avatar_url, last_bio_update, last_claim,
	captured_at
`

// CreateCapture inserts a capture and its agents in one transaction.
// Fails entire capture on any duplicate.
func (s *CaptureStore) CreateCapture(ctx context.Context, c *domain.Capture, agents []*domain.AgentRecord) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}
	for _, a := range agents {
		if a == nil || a.Key() == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO captures (capture_id, created_at, description) VALUES ($1, $2, $3)`,
		c.ID, c.CreatedAt, c.Description,
	)
	if err != nil {
		return storageErr("insert capture", err)
	}

	query := `
		INSERT INTO capture_agents (
			record_id, capture_id, username, username_key, score, rank,
			followers, likes, retweets, replies,
			bio, wallet_address, wallet_balance, avatar_url, last_bio_update, last_claim,
			captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	batch := &pgx.Batch{}
	for _, a := range agents {
		recordID := a.RecordID
		if recordID == "" {
			recordID = idhash.ComputeRecordID(c.ID, a.Username)
		}
		batch.Queue(query,
			recordID,
			c.ID,
			a.Username,
			a.Key(),
			a.Score,
			a.Rank,
			a.Followers,
			a.Likes,
			a.Retweets,
			a.Replies,
			a.Bio,
			a.WalletAddress,
			a.WalletBalance,
			a.AvatarURL,
			a.LastBioUpdate,
			a.LastClaim,
			c.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range agents {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return storageErr("insert capture agent", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetCapture retrieves a capture by ID. Returns ErrNotFound if not exists.
func (s *CaptureStore) GetCapture(ctx context.Context, captureID string) (*domain.Capture, error) {
	query := `
		SELECT capture_id, created_at, description
		FROM captures
		WHERE capture_id = $1
	`

	var c domain.Capture
	err := s.pool.QueryRow(ctx, query, captureID).Scan(&c.ID, &c.CreatedAt, &c.Description)
	if err != nil {
		return nil, storageErr("get capture", err)
	}
	return &c, nil
}

// ListCaptures retrieves all captures, ordered by created_at DESC.
func (s *CaptureStore) ListCaptures(ctx context.Context) ([]*domain.Capture, error) {
	query := `
		SELECT capture_id, created_at, description
		FROM captures
		ORDER BY created_at DESC, capture_id DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var result []*domain.Capture
	for rows.Next() {
		var c domain.Capture
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.Description); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return result, nil
}

// LatestCapture retrieves the newest capture. Returns ErrNotFound if none exist.
func (s *CaptureStore) LatestCapture(ctx context.Context) (*domain.Capture, error) {
	query := `
		SELECT capture_id, created_at, description
		FROM captures
		ORDER BY created_at DESC, capture_id DESC
		LIMIT 1
	`

	var c domain.Capture
	err := s.pool.QueryRow(ctx, query).Scan(&c.ID, &c.CreatedAt, &c.Description)
	if err != nil {
		return nil, storageErr("latest capture", err)
	}
	return &c, nil
}

// DeleteCapture removes a capture. Agent rows go with it via ON DELETE CASCADE.
func (s *CaptureStore) DeleteCapture(ctx context.Context, captureID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM captures WHERE capture_id = $1`, captureID)
	if err != nil {
		return fmt.Errorf("delete capture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateEnrichment overwrites the enrichment fields of one agent record.
func (s *CaptureStore) UpdateEnrichment(ctx context.Context, r *domain.AgentRecord) error {
	if r == nil || r.CaptureID == "" || r.Key() == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE capture_agents
		SET bio = $3, wallet_address = $4, wallet_balance = $5, avatar_url = $6,
			last_bio_update = $7, last_claim = $8
		WHERE capture_id = $1 AND username_key = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		r.CaptureID,
		r.Key(),
		r.Bio,
		r.WalletAddress,
		r.WalletBalance,
		r.AvatarURL,
		r.LastBioUpdate,
		r.LastClaim,
	)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetCaptureAgents retrieves a capture's agents, ordered by rank ASC.
func (s *CaptureStore) GetCaptureAgents(ctx context.Context, captureID string, f storage.AgentFilter) ([]*domain.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM capture_agents WHERE capture_id = $1`
	args := []any{captureID}

	if len(f.Usernames) > 0 {
		keys := make([]string, len(f.Usernames))
		for i, u := range f.Usernames {
			keys[i] = domain.NormalizeUsername(u)
		}
		args = append(args, keys)
		query += fmt.Sprintf(" AND username_key = ANY($%d)", len(args))
	}
	if f.MinScore != nil {
		args = append(args, *f.MinScore)
		query += fmt.Sprintf(" AND score >= $%d", len(args))
	}
	query += " ORDER BY rank ASC, username_key ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get capture agents: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

// GetAgentAcrossCaptures retrieves every record of one agent, ordered by captured_at ASC.
func (s *CaptureStore) GetAgentAcrossCaptures(ctx context.Context, username string) ([]*domain.AgentRecord, error) {
	query := `SELECT ` + agentColumns + `
		FROM capture_agents
		WHERE username_key = $1
		ORDER BY captured_at ASC, capture_id ASC
	`

	rows, err := s.pool.Query(ctx, query, domain.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("get agent across captures: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

// scanAgent scans a single row into an AgentRecord.
func scanAgent(row pgx.Row) (*domain.AgentRecord, error) {
	var a domain.AgentRecord
	err := row.Scan(
		&a.RecordID,
		&a.CaptureID,
		&a.Username,
		&a.Score,
		&a.Rank,
		&a.Followers,
		&a.Likes,
		&a.Retweets,
		&a.Replies,
		&a.Bio,
		&a.WalletAddress,
		&a.WalletBalance,
		&a.AvatarURL,
		&a.LastBioUpdate,
		&a.LastClaim,
		&a.CapturedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// scanAgents scans multiple rows into AgentRecords.
func scanAgents(rows pgx.Rows) ([]*domain.AgentRecord, error) {
	var result []*domain.AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return result, nil
}

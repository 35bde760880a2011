package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agentboard/internal/domain"
	"agentboard/internal/idhash"
	"agentboard/internal/storage"
)

// CaptureStore implements storage.CaptureStore on a SQLite file.
type CaptureStore struct {
	db *sql.DB
}

// NewCaptureStore creates a new CaptureStore. The schema must already exist.
func NewCaptureStore(db *sql.DB) *CaptureStore {
	return &CaptureStore{db: db}
}

// Compile-time interface check.
var _ storage.CaptureStore = (*CaptureStore)(nil)

const agentColumns = `record_id, capture_id, username, score, rank,
	followers, likes, retweets, replies,
	bio, wallet_address, wallet_balance, avatar_url, last_bio_update, last_claim,
	captured_at`

// CreateCapture inserts a capture and its agents in one transaction.
func (s *CaptureStore) CreateCapture(ctx context.Context, c *domain.Capture, agents []*domain.AgentRecord) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}
	for _, a := range agents {
		if a == nil || a.Key() == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO captures (capture_id, created_at, description) VALUES (?, ?, ?)`,
		c.ID, toMillis(c.CreatedAt), c.Description,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert capture: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO capture_agents (
			record_id, capture_id, username, username_key, score, rank,
			followers, likes, retweets, replies,
			bio, wallet_address, wallet_balance, avatar_url, last_bio_update, last_claim,
			captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range agents {
		recordID := a.RecordID
		if recordID == "" {
			recordID = idhash.ComputeRecordID(c.ID, a.Username)
		}
		_, err := stmt.ExecContext(ctx,
			recordID,
			c.ID,
			a.Username,
			a.Key(),
			a.Score,
			a.Rank,
			nullInt(a.Followers),
			nullInt(a.Likes),
			nullInt(a.Retweets),
			nullInt(a.Replies),
			nullString(a.Bio),
			nullString(a.WalletAddress),
			nullString(a.WalletBalance),
			nullString(a.AvatarURL),
			nullMillis(a.LastBioUpdate),
			nullMillis(a.LastClaim),
			toMillis(c.CreatedAt),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert capture agent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetCapture retrieves a capture by ID. Returns ErrNotFound if not exists.
func (s *CaptureStore) GetCapture(ctx context.Context, captureID string) (*domain.Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT capture_id, created_at, description FROM captures WHERE capture_id = ?`, captureID)
	c, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get capture: %w", err)
	}
	return c, nil
}

// ListCaptures retrieves all captures, ordered by created_at DESC.
func (s *CaptureStore) ListCaptures(ctx context.Context) ([]*domain.Capture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, created_at, description FROM captures ORDER BY created_at DESC, capture_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var result []*domain.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// LatestCapture retrieves the newest capture. Returns ErrNotFound if none exist.
func (s *CaptureStore) LatestCapture(ctx context.Context) (*domain.Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT capture_id, created_at, description FROM captures ORDER BY created_at DESC, capture_id DESC LIMIT 1`)
	c, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("latest capture: %w", err)
	}
	return c, nil
}

// DeleteCapture removes a capture. Agent rows go with it via ON DELETE CASCADE.
func (s *CaptureStore) DeleteCapture(ctx context.Context, captureID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE capture_id = ?`, captureID)
	if err != nil {
		return fmt.Errorf("delete capture: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateEnrichment overwrites the enrichment fields of one agent record.
func (s *CaptureStore) UpdateEnrichment(ctx context.Context, r *domain.AgentRecord) error {
	if r == nil || r.CaptureID == "" || r.Key() == "" {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE capture_agents
		SET bio = ?, wallet_address = ?, wallet_balance = ?, avatar_url = ?, last_bio_update = ?, last_claim = ?
		WHERE capture_id = ? AND username_key = ?`,
		nullString(r.Bio),
		nullString(r.WalletAddress),
		nullString(r.WalletBalance),
		nullString(r.AvatarURL),
		nullMillis(r.LastBioUpdate),
		nullMillis(r.LastClaim),
		r.CaptureID,
		r.Key(),
	)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetCaptureAgents retrieves a capture's agents, ordered by rank ASC.
func (s *CaptureStore) GetCaptureAgents(ctx context.Context, captureID string, f storage.AgentFilter) ([]*domain.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM capture_agents WHERE capture_id = ?`
	args := []any{captureID}

	if len(f.Usernames) > 0 {
		placeholders := make([]string, len(f.Usernames))
		for i, u := range f.Usernames {
			placeholders[i] = "?"
			args = append(args, domain.NormalizeUsername(u))
		}
		query += " AND username_key IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if f.MinScore != nil {
		query += " AND score >= ?"
		args = append(args, *f.MinScore)
	}
	query += " ORDER BY rank ASC, username_key ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get capture agents: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

// GetAgentAcrossCaptures retrieves every record of one agent, ordered by captured_at ASC.
func (s *CaptureStore) GetAgentAcrossCaptures(ctx context.Context, username string) ([]*domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM capture_agents WHERE username_key = ? ORDER BY captured_at ASC, capture_id ASC`,
		domain.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("get agent across captures: %w", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(row scanner) (*domain.Capture, error) {
	var c domain.Capture
	var createdAt int64
	if err := row.Scan(&c.ID, &createdAt, &c.Description); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func scanAgents(rows *sql.Rows) ([]*domain.AgentRecord, error) {
	var result []*domain.AgentRecord
	for rows.Next() {
		var (
			a                                   domain.AgentRecord
			followers, likes, retweets, replies sql.NullInt64
			bio, wallet, balance, avatar        sql.NullString
			lastBioUpdate, lastClaim            sql.NullInt64
			capturedAt                          int64
		)
		err := rows.Scan(
			&a.RecordID, &a.CaptureID, &a.Username, &a.Score, &a.Rank,
			&followers, &likes, &retweets, &replies,
			&bio, &wallet, &balance, &avatar, &lastBioUpdate, &lastClaim,
			&capturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Followers = intFromNull(followers)
		a.Likes = intFromNull(likes)
		a.Retweets = intFromNull(retweets)
		a.Replies = intFromNull(replies)
		a.Bio = stringFromNull(bio)
		a.WalletAddress = stringFromNull(wallet)
		a.WalletBalance = stringFromNull(balance)
		a.AvatarURL = stringFromNull(avatar)
		a.LastBioUpdate = timeFromNull(lastBioUpdate)
		a.LastClaim = timeFromNull(lastClaim)
		a.CapturedAt = fromMillis(capturedAt)
		result = append(result, &a)
	}
	return result, rows.Err()
}

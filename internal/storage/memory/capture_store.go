package memory

import (
	"context"
	"sort"
	"sync"

	"agentboard/internal/domain"
	"agentboard/internal/idhash"
	"agentboard/internal/storage"
)

// CaptureStore is an in-memory implementation of storage.CaptureStore.
type CaptureStore struct {
	mu       sync.RWMutex
	captures map[string]*domain.Capture                // keyed by capture_id
	agents   map[string]map[string]*domain.AgentRecord // capture_id -> normalized username
}

// NewCaptureStore creates a new in-memory capture store.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{
		captures: make(map[string]*domain.Capture),
		agents:   make(map[string]map[string]*domain.AgentRecord),
	}
}

// CreateCapture atomically inserts a capture and its agent records.
func (s *CaptureStore) CreateCapture(_ context.Context, c *domain.Capture, agents []*domain.AgentRecord) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.captures[c.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// First pass: validate the whole batch before anything becomes visible
	rows := make(map[string]*domain.AgentRecord, len(agents))
	for _, a := range agents {
		if a == nil || a.Key() == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := rows[a.Key()]; exists {
			return storage.ErrDuplicateKey
		}
		rowCopy := *a
		rowCopy.CaptureID = c.ID
		rowCopy.CapturedAt = c.CreatedAt
		if rowCopy.RecordID == "" {
			rowCopy.RecordID = idhash.ComputeRecordID(c.ID, a.Username)
		}
		rows[a.Key()] = &rowCopy
	}

	captureCopy := *c
	s.captures[c.ID] = &captureCopy
	s.agents[c.ID] = rows
	return nil
}

// GetCapture retrieves a capture by ID. Returns ErrNotFound if not exists.
func (s *CaptureStore) GetCapture(_ context.Context, captureID string) (*domain.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.captures[captureID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	captureCopy := *c
	return &captureCopy, nil
}

// ListCaptures retrieves all captures, ordered by created_at DESC.
func (s *CaptureStore) ListCaptures(_ context.Context) ([]*domain.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Capture, 0, len(s.captures))
	for _, c := range s.captures {
		captureCopy := *c
		result = append(result, &captureCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// LatestCapture retrieves the newest capture. Returns ErrNotFound if none exist.
func (s *CaptureStore) LatestCapture(ctx context.Context) (*domain.Capture, error) {
	captures, err := s.ListCaptures(ctx)
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		return nil, storage.ErrNotFound
	}
	return captures[0], nil
}

// DeleteCapture removes a capture and cascades its agent records.
func (s *CaptureStore) DeleteCapture(_ context.Context, captureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.captures[captureID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.captures, captureID)
	delete(s.agents, captureID)
	return nil
}

// UpdateEnrichment overwrites the enrichment fields of one agent record.
func (s *CaptureStore) UpdateEnrichment(_ context.Context, r *domain.AgentRecord) error {
	if r == nil || r.CaptureID == "" || r.Key() == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, exists := s.agents[r.CaptureID]
	if !exists {
		return storage.ErrNotFound
	}
	row, exists := rows[r.Key()]
	if !exists {
		return storage.ErrNotFound
	}

	row.Bio = r.Bio
	row.WalletAddress = r.WalletAddress
	row.WalletBalance = r.WalletBalance
	row.AvatarURL = r.AvatarURL
	row.LastBioUpdate = r.LastBioUpdate
	row.LastClaim = r.LastClaim
	return nil
}

// GetCaptureAgents retrieves a capture's agents, ordered by rank ASC.
func (s *CaptureStore) GetCaptureAgents(_ context.Context, captureID string, f storage.AgentFilter) ([]*domain.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.agents[captureID]
	if !exists {
		return nil, nil
	}

	var wanted map[string]struct{}
	if len(f.Usernames) > 0 {
		wanted = make(map[string]struct{}, len(f.Usernames))
		for _, u := range f.Usernames {
			wanted[domain.NormalizeUsername(u)] = struct{}{}
		}
	}

	var result []*domain.AgentRecord
	for key, row := range rows {
		if wanted != nil {
			if _, ok := wanted[key]; !ok {
				continue
			}
		}
		if f.MinScore != nil && row.Score < *f.MinScore {
			continue
		}
		rowCopy := *row
		result = append(result, &rowCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Rank < result[j].Rank
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// GetAgentAcrossCaptures retrieves every record of one agent, ordered by captured_at ASC.
func (s *CaptureStore) GetAgentAcrossCaptures(_ context.Context, username string) ([]*domain.AgentRecord, error) {
	key := domain.NormalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AgentRecord
	for _, rows := range s.agents {
		if row, ok := rows[key]; ok {
			rowCopy := *row
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CapturedAt.Equal(result[j].CapturedAt) {
			return result[i].CaptureID < result[j].CaptureID
		}
		return result[i].CapturedAt.Before(result[j].CapturedAt)
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.CaptureStore = (*CaptureStore)(nil)

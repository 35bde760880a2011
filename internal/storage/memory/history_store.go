package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"agentboard/internal/domain"
	"agentboard/internal/storage"
)

// HistoryPointStore is an in-memory implementation of storage.HistoryPointStore.
type HistoryPointStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AgentSample // keyed by (capture_id, username)
}

// NewHistoryPointStore creates a new in-memory history point store.
func NewHistoryPointStore() *HistoryPointStore {
	return &HistoryPointStore{
		data: make(map[string]*domain.AgentSample),
	}
}

// sampleKey generates a unique key for a sample.
func sampleKey(captureID, username string) string {
	return fmt.Sprintf("%s|%s", captureID, username)
}

// InsertBulk adds multiple samples. Fails entire batch on duplicate.
func (s *HistoryPointStore) InsertBulk(_ context.Context, samples []*domain.AgentSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(samples))

	// First pass: check for duplicates (existing + intra-batch)
	for _, p := range samples {
		if p == nil || p.CaptureID == "" || p.Username == "" {
			return storage.ErrInvalidInput
		}
		key := sampleKey(p.CaptureID, domain.NormalizeUsername(p.Username))
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range samples {
		sampleCopy := *p
		sampleCopy.Username = domain.NormalizeUsername(p.Username)
		s.data[sampleKey(sampleCopy.CaptureID, sampleCopy.Username)] = &sampleCopy
	}

	return nil
}

// GetByUsername retrieves all samples of one agent, ordered by captured_at ASC.
func (s *HistoryPointStore) GetByUsername(_ context.Context, username string) ([]*domain.AgentSample, error) {
	key := domain.NormalizeUsername(username)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AgentSample
	for _, p := range s.data {
		if p.Username == key {
			sampleCopy := *p
			result = append(result, &sampleCopy)
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

// DeleteByCapture removes all samples of a capture.
func (s *HistoryPointStore) DeleteByCapture(_ context.Context, captureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range s.data {
		if p.CaptureID == captureID {
			delete(s.data, key)
		}
	}
	return nil
}

var _ storage.HistoryPointStore = (*HistoryPointStore)(nil)

package stub

import (
	"context"
	"sync"

	"agentboard/internal/domain"
	"agentboard/internal/ranking"
)

// Source implements ranking.Source for testing.
// Calls are counted and the returned lists are copies.
type Source struct {
	mu sync.Mutex

	Agents         []*domain.AgentRecord
	LeaderboardErr error
	Details        map[string]*domain.AgentDetail
	DetailErrs     map[string]error

	// Gate, when set, blocks FetchLeaderboard until it is closed or ctx ends.
	Gate chan struct{}

	leaderboardCalls int
	detailCalls      map[string]int
}

// NewSource creates a new stub source serving agents.
func NewSource(agents ...*domain.AgentRecord) *Source {
	return &Source{
		Agents:      agents,
		Details:     make(map[string]*domain.AgentDetail),
		DetailErrs:  make(map[string]error),
		detailCalls: make(map[string]int),
	}
}

// FetchLeaderboard returns the configured agents or error.
func (s *Source) FetchLeaderboard(ctx context.Context) ([]*domain.AgentRecord, error) {
	s.mu.Lock()
	s.leaderboardCalls++
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LeaderboardErr != nil {
		return nil, s.LeaderboardErr
	}
	return domain.CloneAgents(s.Agents), nil
}

// FetchAgent returns the configured detail, error, or ranking.ErrAgentNotFound.
func (s *Source) FetchAgent(_ context.Context, username string) (*domain.AgentDetail, error) {
	key := domain.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailCalls[key]++

	if err, ok := s.DetailErrs[key]; ok {
		return nil, err
	}
	d, ok := s.Details[key]
	if !ok {
		return nil, ranking.ErrAgentNotFound
	}
	detailCopy := *d
	return &detailCopy, nil
}

// SetAgents replaces the leaderboard.
func (s *Source) SetAgents(agents ...*domain.AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Agents = agents
}

// SetLeaderboardErr sets the error returned by FetchLeaderboard.
func (s *Source) SetLeaderboardErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LeaderboardErr = err
}

// AddDetail registers a detail payload.
func (s *Source) AddDetail(d *domain.AgentDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Details[domain.NormalizeUsername(d.Username)] = d
}

// SetDetailErr makes FetchAgent fail for username.
func (s *Source) SetDetailErr(username string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DetailErrs[domain.NormalizeUsername(username)] = err
}

// LeaderboardCalls returns how many times FetchLeaderboard was called.
func (s *Source) LeaderboardCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardCalls
}

// DetailCalls returns how many times FetchAgent was called for username.
func (s *Source) DetailCalls(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailCalls[domain.NormalizeUsername(username)]
}

var _ ranking.Source = (*Source)(nil)

package domain

import "time"

// Capture is a named, timestamped bulk record of every agent's rank and score.
// Corresponds to the captures table.
type Capture struct {
	ID          string    `json:"id"` // uuid
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
}

// AgentSample is the per-agent row mirrored to the history analytics store.
// Corresponds to agent_samples table in ClickHouse.
type AgentSample struct {
	CaptureID  string
	Username   string // normalized
	CapturedAt time.Time
	Score      float64
	Rank       int
	Followers  *int64
	Likes      *int64
	Retweets   *int64
	Replies    *int64
}

// SampleOf builds the analytics sample for a capture row.
func SampleOf(r *AgentRecord) *AgentSample {
	return &AgentSample{
		CaptureID:  r.CaptureID,
		Username:   r.Key(),
		CapturedAt: r.CapturedAt,
		Score:      r.Score,
		Rank:       r.Rank,
		Followers:  r.Followers,
		Likes:      r.Likes,
		Retweets:   r.Retweets,
		Replies:    r.Replies,
	}
}

// Record converts the sample back into a capture-scoped AgentRecord.
func (s *AgentSample) Record() *AgentRecord {
	return &AgentRecord{
		CaptureID:  s.CaptureID,
		Username:   s.Username,
		CapturedAt: s.CapturedAt,
		Score:      s.Score,
		Rank:       s.Rank,
		Followers:  s.Followers,
		Likes:      s.Likes,
		Retweets:   s.Retweets,
		Replies:    s.Replies,
	}
}

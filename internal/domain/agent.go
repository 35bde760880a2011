package domain

import (
	"strings"
	"time"
)

// AgentRecord is one agent's leaderboard row.
// Scoped to a capture (CaptureID set) or to a live reading (CaptureID empty).
type AgentRecord struct {
	RecordID  string  `json:"record_id,omitempty"`  // sha256(capture_id|username), capture rows only
	CaptureID string  `json:"capture_id,omitempty"` // empty for live readings
	Username  string  `json:"username"`             // case-insensitive identity
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"` // dense 1..N within one capture

	Followers *int64 `json:"followers,omitempty"`
	Likes     *int64 `json:"likes,omitempty"`
	Retweets  *int64 `json:"retweets,omitempty"`
	Replies   *int64 `json:"replies,omitempty"`

	// Previous-period fields. Absent when no earlier capture contains the agent.
	PrevScore     *float64   `json:"prev_score,omitempty"`
	PrevRank      *int       `json:"prev_rank,omitempty"`
	PrevTimestamp *time.Time `json:"prev_timestamp,omitempty"`

	// Enrichment fields, best-effort.
	Bio           *string    `json:"bio,omitempty"`
	WalletAddress *string    `json:"wallet_address,omitempty"`
	WalletBalance *string    `json:"wallet_balance,omitempty"` // SOL, decimal string
	AvatarURL     *string    `json:"avatar_url,omitempty"`
	LastBioUpdate *time.Time `json:"last_bio_update,omitempty"`
	LastClaim     *time.Time `json:"last_claim,omitempty"`

	CapturedAt time.Time `json:"captured_at"` // capture creation time or live fetch time
}

// NormalizeUsername returns the identity key for a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@")))
}

// Key returns the normalized identity of the record.
func (r *AgentRecord) Key() string {
	return NormalizeUsername(r.Username)
}

// Clone returns a copy of the record. Pointer fields are shared and
// must be treated as immutable; replace them instead of writing through.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// CloneAgents copies a slice of records.
func CloneAgents(agents []*AgentRecord) []*AgentRecord {
	if agents == nil {
		return nil
	}
	out := make([]*AgentRecord, 0, len(agents))
	for _, a := range agents {
		if a != nil {
			out = append(out, a.Clone())
		}
	}
	return out
}

// ApplyDetail merges enrichment fields from d into the record.
// Fields missing from d keep their current value. Reports whether anything changed.
func (r *AgentRecord) ApplyDetail(d *AgentDetail) bool {
	if d == nil {
		return false
	}
	changed := false
	setString := func(dst **string, src *string) {
		if src != nil && (*dst == nil || **dst != *src) {
			*dst = src
			changed = true
		}
	}
	setTime := func(dst **time.Time, src *time.Time) {
		if src != nil && (*dst == nil || !(*dst).Equal(*src)) {
			*dst = src
			changed = true
		}
	}
	setString(&r.Bio, d.Bio)
	setString(&r.WalletAddress, d.WalletAddress)
	setString(&r.AvatarURL, d.AvatarURL)
	setTime(&r.LastBioUpdate, d.LastBioUpdate)
	setTime(&r.LastClaim, d.LastClaim)
	return changed
}

// MetricValue returns the value of metric m, or false when the record lacks it.
func (r *AgentRecord) MetricValue(m Metric) (float64, bool) {
	opt := func(v *int64) (float64, bool) {
		if v == nil {
			return 0, false
		}
		return float64(*v), true
	}
	switch m {
	case MetricScore:
		return r.Score, true
	case MetricRank:
		if r.Rank <= 0 {
			return 0, false
		}
		return float64(r.Rank), true
	case MetricFollowers:
		return opt(r.Followers)
	case MetricLikes:
		return opt(r.Likes)
	case MetricRetweets:
		return opt(r.Retweets)
	case MetricReplies:
		return opt(r.Replies)
	}
	return 0, false
}

// AgentDetail is the enrichment payload returned by the detail source.
type AgentDetail struct {
	Username      string     `json:"username"`
	Bio           *string    `json:"bio,omitempty"`
	WalletAddress *string    `json:"wallet_address,omitempty"`
	AvatarURL     *string    `json:"avatar_url,omitempty"`
	LastBioUpdate *time.Time `json:"last_bio_update,omitempty"`
	LastClaim     *time.Time `json:"last_claim,omitempty"`
	Posts         []Post     `json:"posts,omitempty"`
}

// Post is a recent content item attached to an agent detail.
type Post struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Likes     int64     `json:"likes"`
	Retweets  int64     `json:"retweets"`
	Replies   int64     `json:"replies"`
}

package leaderboard

import (
	"sort"

	"agentboard/internal/domain"
)

// DefaultTopMovers is the number of movers reported when none is requested.
const DefaultTopMovers = 5

// Mover is an agent whose rank improved against the previous capture.
type Mover struct {
	Username string `json:"username"`
	Rank     int    `json:"rank"`
	PrevRank int    `json:"prev_rank"`
	Change   int    `json:"change"` // prev_rank - rank, positive means climbed
}

// Stats is the aggregate view of one capture.
type Stats struct {
	CaptureID     string  `json:"capture_id"`
	PrevCaptureID string  `json:"prev_capture_id,omitempty"`
	Count         int     `json:"count"`
	AverageScore  float64 `json:"average_score"`
	MedianScore   float64 `json:"median_score"`
	TopScore      float64 `json:"top_score"`
	TopMovers     []Mover `json:"top_movers"`
}

// ComputeStats aggregates a capture's agents against an optional previous capture.
// Top movers are ordered by Change DESC, then username ASC; agents missing
// from prev or with no rank change are not movers.
func ComputeStats(agents, prev []*domain.AgentRecord, topN int) *Stats {
	if topN <= 0 {
		topN = DefaultTopMovers
	}

	st := &Stats{Count: len(agents), TopMovers: []Mover{}}
	if len(agents) == 0 {
		return st
	}

	scores := make([]float64, len(agents))
	for i, a := range agents {
		scores[i] = a.Score
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	st.AverageScore = computeMean(scores)
	st.MedianScore = computePercentile(sorted, 0.50)
	st.TopScore = sorted[len(sorted)-1]

	prevRank := make(map[string]int, len(prev))
	for _, p := range prev {
		if p.Rank > 0 {
			prevRank[p.Key()] = p.Rank
		}
	}

	var movers []Mover
	for _, a := range agents {
		pr, ok := prevRank[a.Key()]
		if !ok || a.Rank <= 0 || pr <= a.Rank {
			continue
		}
		movers = append(movers, Mover{
			Username: a.Username,
			Rank:     a.Rank,
			PrevRank: pr,
			Change:   pr - a.Rank,
		})
	}
	sort.Slice(movers, func(i, j int) bool {
		if movers[i].Change != movers[j].Change {
			return movers[i].Change > movers[j].Change
		}
		return domain.NormalizeUsername(movers[i].Username) < domain.NormalizeUsername(movers[j].Username)
	})
	if len(movers) > topN {
		movers = movers[:topN]
	}
	if movers != nil {
		st.TopMovers = movers
	}
	return st
}

// computeMean calculates arithmetic mean of values.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

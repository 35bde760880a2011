// Package leaderboard serves the current ranked list, choosing between the
// live source and the last durable capture.
package leaderboard

import (
	"math"
	"sort"

	"agentboard/internal/domain"
)

// Rank returns a ranked copy of agents.
// Duplicate identities keep their first occurrence. Agents are sorted by
// score DESC with ties kept in source order, then numbered 1..N.
// A non-finite score is ranked as zero.
func Rank(agents []*domain.AgentRecord) []*domain.AgentRecord {
	seen := make(map[string]struct{}, len(agents))
	out := make([]*domain.AgentRecord, 0, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		key := a.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c := a.Clone()
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			c.Score = 0
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	for i, a := range out {
		a.Rank = i + 1
	}
	return out
}

package leaderboard

import (
	"math"
	"testing"

	"agentboard/internal/domain"
)

func agent(username string, score float64) *domain.AgentRecord {
	return &domain.AgentRecord{Username: username, Score: score}
}

func TestRank_DenseAndDescending(t *testing.T) {
	in := []*domain.AgentRecord{
		agent("a", 90),
		agent("b", 100),
		agent("c", 50),
		agent("d", 90),
	}

	out := Rank(in)

	want := []struct {
		username string
		rank     int
	}{
		{"b", 1},
		{"a", 2}, // tie with d resolves to source order
		{"d", 3},
		{"c", 4},
	}
	if len(out) != len(want) {
		t.Fatalf("expected %d agents, got %d", len(want), len(out))
	}
	for i, w := range want {
		if out[i].Username != w.username || out[i].Rank != w.rank {
			t.Errorf("position %d: got %s rank %d, want %s rank %d", i, out[i].Username, out[i].Rank, w.username, w.rank)
		}
	}

	for _, a := range in {
		if a.Rank != 0 {
			t.Fatalf("input %s was mutated", a.Username)
		}
	}
}

func TestRank_DropsDuplicatesAndBlanks(t *testing.T) {
	out := Rank([]*domain.AgentRecord{
		agent("Alice", 10),
		nil,
		agent("  ", 99),
		agent("alice", 50),
		agent("bob", 20),
	})

	if len(out) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(out))
	}
	if out[0].Username != "bob" || out[1].Username != "Alice" || out[1].Score != 10 {
		t.Errorf("unexpected ranking: %+v, %+v", out[0], out[1])
	}
}

func TestRank_Deterministic(t *testing.T) {
	in := []*domain.AgentRecord{agent("x", 1), agent("y", 1), agent("z", 1)}
	first := Rank(in)
	for i := 0; i < 10; i++ {
		again := Rank(in)
		for j := range first {
			if first[j].Username != again[j].Username || first[j].Rank != again[j].Rank {
				t.Fatalf("ranking changed between runs at %d", j)
			}
		}
	}
}

func TestRank_NonFiniteScoresRankAsZero(t *testing.T) {
	out := Rank([]*domain.AgentRecord{
		agent("a", 50),
		agent("b", math.NaN()),
		agent("c", 100),
		agent("d", math.Inf(1)),
		agent("e", 70),
	})

	want := []string{"c", "e", "a", "b", "d"}
	if len(out) != len(want) {
		t.Fatalf("expected %d agents, got %d", len(want), len(out))
	}
	for i, w := range want {
		if out[i].Username != w || out[i].Rank != i+1 {
			t.Errorf("position %d: got %s rank %d, want %s rank %d", i, out[i].Username, out[i].Rank, w, i+1)
		}
	}
	for _, a := range out[3:] {
		if a.Score != 0 {
			t.Errorf("%s: score = %v, want 0", a.Username, a.Score)
		}
	}
}

func TestRank_Empty(t *testing.T) {
	if out := Rank(nil); len(out) != 0 {
		t.Errorf("expected empty, got %d", len(out))
	}
}

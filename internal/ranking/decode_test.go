package ranking

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeLeaderboard_BareList(t *testing.T) {
	body := []byte(`[
		{"username": "@Alice", "score": 90, "followers": 12, "wallet_address": "abc"},
		{"handle": "bob", "points": "100.5"},
		{"score": 5}
	]`)

	agents, err := DecodeLeaderboard(body)
	if err != nil {
		t.Fatalf("DecodeLeaderboard: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents (entry without identity dropped), got %d", len(agents))
	}
	if agents[0].Username != "Alice" || agents[0].Score != 90 {
		t.Errorf("unexpected first agent: %+v", agents[0])
	}
	if agents[0].Followers == nil || *agents[0].Followers != 12 {
		t.Errorf("followers not decoded")
	}
	if agents[0].Likes != nil {
		t.Errorf("absent metric must stay nil")
	}
	if agents[1].Username != "bob" || agents[1].Score != 100.5 {
		t.Errorf("unexpected second agent: %+v", agents[1])
	}
}

func TestDecodeLeaderboard_NonFiniteScores(t *testing.T) {
	body := []byte(`[
		{"username": "a", "score": "50"},
		{"username": "b", "score": "NaN"},
		{"username": "c", "score": "100"},
		{"username": "d", "score": "-Inf"},
		{"username": "e", "points": "+Infinity"}
	]`)

	agents, err := DecodeLeaderboard(body)
	if err != nil {
		t.Fatalf("DecodeLeaderboard: %v", err)
	}
	if len(agents) != 5 {
		t.Fatalf("expected 5 agents, got %d", len(agents))
	}
	want := map[string]float64{"a": 50, "b": 0, "c": 100, "d": 0, "e": 0}
	for _, a := range agents {
		if a.Score != want[a.Username] {
			t.Errorf("%s: score = %v, want %v", a.Username, a.Score, want[a.Username])
		}
	}
	if _, err := json.Marshal(agents); err != nil {
		t.Errorf("decoded agents must marshal: %v", err)
	}
}

func TestDecodeLeaderboard_Wrappers(t *testing.T) {
	for _, field := range []string{"agents", "data", "leaderboard", "results"} {
		body := []byte(`{"total": 1, "` + field + `": [{"username": "a", "score": 1}]}`)
		agents, err := DecodeLeaderboard(body)
		if err != nil {
			t.Fatalf("%s: %v", field, err)
		}
		if len(agents) != 1 || agents[0].Username != "a" {
			t.Errorf("%s: unexpected agents %+v", field, agents)
		}
	}
}

func TestDecodeLeaderboard_UnexpectedShapes(t *testing.T) {
	cases := []string{
		``,
		`"hello"`,
		`42`,
		`{"items": []}`,
		`{"agents": {"a": 1}}`,
		`[1, 2`,
		`<html>down</html>`,
	}
	for _, body := range cases {
		agents, err := DecodeLeaderboard([]byte(body))
		if !errors.Is(err, ErrUnexpectedShape) {
			t.Errorf("%q: expected ErrUnexpectedShape, got %v", body, err)
		}
		if len(agents) != 0 {
			t.Errorf("%q: expected no agents, got %d", body, len(agents))
		}
	}
}

func TestDecodeLeaderboard_Times(t *testing.T) {
	body := []byte(`[{"username": "a", "last_claim": "2025-01-02T03:04:05Z", "last_bio_update": 1700000000}]`)
	agents, err := DecodeLeaderboard(body)
	if err != nil {
		t.Fatalf("DecodeLeaderboard: %v", err)
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if agents[0].LastClaim == nil || !agents[0].LastClaim.Equal(want) {
		t.Errorf("last_claim: got %v", agents[0].LastClaim)
	}
	if agents[0].LastBioUpdate == nil || agents[0].LastBioUpdate.Unix() != 1700000000 {
		t.Errorf("last_bio_update: got %v", agents[0].LastBioUpdate)
	}
}

func TestDecodeAgentDetail(t *testing.T) {
	body := []byte(`{
		"agent": {"username": "alice", "bio": "hi", "wallet": "W1"},
		"posts": [{"id": "p1", "text": "gm", "like_count": 3}]
	}`)
	d, err := DecodeAgentDetail(body)
	if err != nil {
		t.Fatalf("DecodeAgentDetail: %v", err)
	}
	if d.Username != "alice" || d.Bio == nil || *d.Bio != "hi" {
		t.Errorf("unexpected detail: %+v", d)
	}
	if d.WalletAddress == nil || *d.WalletAddress != "W1" {
		t.Errorf("wallet not decoded")
	}
	if len(d.Posts) != 1 || d.Posts[0].Likes != 3 {
		t.Errorf("posts not decoded: %+v", d.Posts)
	}

	if _, err := DecodeAgentDetail([]byte(`[]`)); !errors.Is(err, ErrUnexpectedShape) {
		t.Errorf("expected ErrUnexpectedShape, got %v", err)
	}
}

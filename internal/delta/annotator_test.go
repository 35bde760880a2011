package delta

import (
	"context"
	"testing"
	"time"

	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/storage"
	"agentboard/internal/storage/memory"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func seedCapture(t *testing.T, store *memory.CaptureStore, id string, at time.Time, agents ...*domain.AgentRecord) {
	t.Helper()
	if err := store.CreateCapture(context.Background(), &domain.Capture{ID: id, CreatedAt: at}, agents); err != nil {
		t.Fatalf("create capture %s: %v", id, err)
	}
}

func rec(username string, score float64, rank int) *domain.AgentRecord {
	return &domain.AgentRecord{Username: username, Score: score, Rank: rank}
}

func TestAnnotate_NoCaptures(t *testing.T) {
	store := memory.NewCaptureStore()
	a := New(Options{Store: store, Clock: clock.NewFake(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))})

	out, err := a.Annotate(context.Background(), []*domain.AgentRecord{rec("a", 90, 2), rec("b", 100, 1)})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	for _, r := range out {
		if r.PrevScore != nil || r.PrevRank != nil || r.PrevTimestamp != nil {
			t.Errorf("%s: prev fields must stay absent, got %+v", r.Username, r)
		}
	}
}

func TestAnnotate_MatchesPreviousDay(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	store := memory.NewCaptureStore()

	// 2025-06-08 23:00 NY
	yesterday := time.Date(2025, 6, 9, 3, 0, 0, 0, time.UTC)
	// 2025-06-09 11:00 NY, today
	today := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	older := time.Date(2025, 6, 5, 15, 0, 0, 0, time.UTC)

	seedCapture(t, store, "older", older, rec("B", 10, 1))
	seedCapture(t, store, "yesterday", yesterday, rec("B", 80, 1), rec("c", 0, 2))
	seedCapture(t, store, "today", today, rec("b", 99, 1))

	// 2025-06-09 22:00 NY
	now := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	a := New(Options{Store: store, Location: ny, Clock: clock.NewFake(now)})

	input := []*domain.AgentRecord{rec("a", 90, 2), rec("b", 100, 1), rec("C", 5, 3)}
	out, err := a.Annotate(context.Background(), input)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	if out[0].PrevScore != nil {
		t.Errorf("a has no previous record, got prev score %v", *out[0].PrevScore)
	}
	if out[1].PrevScore == nil || *out[1].PrevScore != 80 {
		t.Fatalf("b prev score = %v, want 80", out[1].PrevScore)
	}
	if out[1].PrevRank == nil || *out[1].PrevRank != 1 {
		t.Errorf("b prev rank = %v, want 1", out[1].PrevRank)
	}
	if out[1].PrevTimestamp == nil || !out[1].PrevTimestamp.Equal(yesterday) {
		t.Fatalf("b prev timestamp = %v, want %v", out[1].PrevTimestamp, yesterday)
	}
	if out[1].PrevTimestamp.Location() != ny {
		t.Errorf("prev timestamp location = %v, want %v", out[1].PrevTimestamp.Location(), ny)
	}
	if out[2].PrevScore == nil || *out[2].PrevScore != 0 {
		t.Errorf("zero is a valid previous score, got %v", out[2].PrevScore)
	}

	if input[1].PrevScore != nil {
		t.Error("input records must not be modified")
	}
}

func TestAnnotate_FallsBackToClosestEarlier(t *testing.T) {
	store := memory.NewCaptureStore()
	seedCapture(t, store, "d1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), rec("b", 50, 1))
	seedCapture(t, store, "d4", time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC), rec("b", 70, 1))

	a := New(Options{Store: store, Clock: clock.NewFake(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))})
	out, err := a.Annotate(context.Background(), []*domain.AgentRecord{rec("b", 100, 1)})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if out[0].PrevScore == nil || *out[0].PrevScore != 70 {
		t.Fatalf("prev score = %v, want 70 from the closest earlier capture", out[0].PrevScore)
	}
}

func TestAnnotate_OldCaptureRecordsCompareWithEarlierCapture(t *testing.T) {
	store := memory.NewCaptureStore()
	d3 := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	d4 := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	seedCapture(t, store, "d3", d3, rec("b", 60, 2))
	seedCapture(t, store, "d4", d4, rec("b", 70, 1))

	a := New(Options{Store: store, Clock: clock.NewFake(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))})

	agents, err := store.GetCaptureAgents(context.Background(), "d4", storage.AgentFilter{})
	if err != nil {
		t.Fatalf("GetCaptureAgents: %v", err)
	}
	out, err := a.Annotate(context.Background(), agents)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if out[0].PrevScore == nil || *out[0].PrevScore != 60 {
		t.Fatalf("prev score = %v, want 60 from the capture before d4", out[0].PrevScore)
	}
	if *out[0].PrevRank != 2 {
		t.Errorf("prev rank = %d, want 2", *out[0].PrevRank)
	}
}

func TestAnnotate_PicksUpReplacedCapture(t *testing.T) {
	store := memory.NewCaptureStore()
	y := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	seedCapture(t, store, "first", y, rec("b", 10, 1))

	a := New(Options{Store: store, Clock: clock.NewFake(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))})
	ctx := context.Background()

	out, _ := a.Annotate(ctx, []*domain.AgentRecord{rec("b", 100, 1)})
	if *out[0].PrevScore != 10 {
		t.Fatalf("prev score = %v, want 10", *out[0].PrevScore)
	}

	if err := store.DeleteCapture(ctx, "first"); err != nil {
		t.Fatalf("DeleteCapture: %v", err)
	}
	seedCapture(t, store, "second", y.Add(time.Hour), rec("b", 20, 1))

	out, _ = a.Annotate(ctx, []*domain.AgentRecord{rec("b", 100, 1)})
	if *out[0].PrevScore != 20 {
		t.Fatalf("prev score = %v, want 20 after replace", *out[0].PrevScore)
	}
}

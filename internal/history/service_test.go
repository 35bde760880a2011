package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentboard/internal/cache"
	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/storage/memory"
)

type fixedLive cache.Result

func (f fixedLive) Get(context.Context) cache.Result {
	res := cache.Result(f)
	res.Agents = domain.CloneAgents(res.Agents)
	return res
}

type failingSamples struct{ *memory.HistoryPointStore }

func (failingSamples) GetByUsername(context.Context, string) ([]*domain.AgentSample, error) {
	return nil, errors.New("clickhouse down")
}

type failingStore struct{ *memory.CaptureStore }

func (failingStore) GetAgentAcrossCaptures(context.Context, string) ([]*domain.AgentRecord, error) {
	return nil, errors.New("postgres down")
}

func seed(t *testing.T, store *memory.CaptureStore, id string, at time.Time, agents ...*domain.AgentRecord) {
	t.Helper()
	if err := store.CreateCapture(context.Background(), &domain.Capture{ID: id, CreatedAt: at}, agents); err != nil {
		t.Fatalf("create capture: %v", err)
	}
}

func TestSeries_MergesStoreAndLive(t *testing.T) {
	store := memory.NewCaptureStore()
	seed(t, store, "c0", day(0), &domain.AgentRecord{Username: "Alice", Score: 10, Rank: 2})
	seed(t, store, "c1", day(1), &domain.AgentRecord{Username: "alice", Score: 20, Rank: 1})
	seed(t, store, "c3", day(3).Add(-time.Hour), &domain.AgentRecord{Username: "alice", Score: 25, Rank: 1})

	live := fixedLive{
		FetchedAt: day(3),
		Agents: []*domain.AgentRecord{
			{Username: "bob", Score: 50},
			{Username: "ALICE", Score: 40},
		},
	}
	svc := NewService(Options{Store: store, Live: live, Clock: clock.NewFake(day(3))})

	s, err := svc.Series(context.Background(), "alice", domain.MetricScore)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if s.Username != "ALICE" || s.Metric != domain.MetricScore {
		t.Errorf("unexpected series header: %+v", s)
	}
	want := []float64{10, 20, 40}
	if len(s.Points) != len(want) {
		t.Fatalf("expected %d points, got %+v", len(want), s.Points)
	}
	for i, w := range want {
		if s.Points[i].Value == nil || *s.Points[i].Value != w {
			t.Errorf("point %d = %v, want %v", i, s.Points[i].Value, w)
		}
	}
	if s.Points[2].Source != domain.PointFromLive {
		t.Errorf("today's point must be live, got %s", s.Points[2].Source)
	}

	r, err := svc.Series(context.Background(), "alice", domain.MetricRank)
	if err != nil {
		t.Fatalf("Series rank: %v", err)
	}
	if got := *r.Points[2].Value; got != 2 {
		t.Errorf("live rank = %v, want 2", got)
	}
}

func TestSeries_CaptureStoreIsAuthoritative(t *testing.T) {
	store := memory.NewCaptureStore()
	seed(t, store, "c1", day(1), &domain.AgentRecord{Username: "alice", Score: 10, Rank: 1})
	seed(t, store, "c2", day(2), &domain.AgentRecord{Username: "alice", Score: 20, Rank: 1})

	// The mirror missed c1.
	samples := memory.NewHistoryPointStore()
	if err := samples.InsertBulk(context.Background(), []*domain.AgentSample{
		{CaptureID: "c2", Username: "alice", CapturedAt: day(2), Score: 20, Rank: 1},
	}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	svc := NewService(Options{Store: store, Samples: samples, Clock: clock.NewFake(day(5))})
	s, err := svc.Series(context.Background(), "alice", domain.MetricScore)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	want := []float64{10, 20}
	if len(s.Points) != len(want) {
		t.Fatalf("expected %d points, got %+v", len(want), s.Points)
	}
	for i, w := range want {
		if s.Points[i].Value == nil || *s.Points[i].Value != w {
			t.Errorf("point %d = %v, want %v", i, s.Points[i].Value, w)
		}
	}
}

func TestSeries_SamplesMirrorFallback(t *testing.T) {
	samples := memory.NewHistoryPointStore()
	if err := samples.InsertBulk(context.Background(), []*domain.AgentSample{
		{CaptureID: "m0", Username: "alice", CapturedAt: day(0), Score: 11, Rank: 1},
		{CaptureID: "m1", Username: "alice", CapturedAt: day(1), Score: 12, Rank: 1},
	}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	svc := NewService(Options{Store: failingStore{memory.NewCaptureStore()}, Samples: samples, Clock: clock.NewFake(day(5))})
	s, err := svc.Series(context.Background(), "alice", domain.MetricScore)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(s.Points) != 2 || *s.Points[0].Value != 11 {
		t.Errorf("expected mirror points, got %+v", s.Points)
	}

	svc = NewService(Options{Store: failingStore{memory.NewCaptureStore()}, Samples: failingSamples{samples}})
	if _, err := svc.Series(context.Background(), "alice", domain.MetricScore); err == nil || errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected a read error when both sources fail, got %v", err)
	}
}

func TestSeries_UnknownAgent(t *testing.T) {
	svc := NewService(Options{Store: memory.NewCaptureStore(), Live: fixedLive{}})

	if _, err := svc.Series(context.Background(), "ghost", domain.MetricScore); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}
	if _, err := svc.Series(context.Background(), " ", domain.MetricScore); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent for blank identity, got %v", err)
	}
}

func TestSeries_EndToEnd(t *testing.T) {
	baseline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	live := fixedLive{
		FetchedAt: day(10),
		Agents:    []*domain.AgentRecord{{Username: "a", Score: 90}, {Username: "b", Score: 100}},
	}
	svc := NewService(Options{
		Store:    memory.NewCaptureStore(),
		Live:     live,
		Baseline: &baseline,
		Clock:    clock.NewFake(day(10)),
	})

	s, err := svc.Series(context.Background(), "a", domain.MetricScore)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(s.Points) != 2 {
		t.Fatalf("expected exactly two points, got %+v", s.Points)
	}
	if !s.Points[0].Timestamp.Equal(baseline) || *s.Points[0].Value != 0 {
		t.Errorf("first point = %+v, want baseline 0", s.Points[0])
	}
	if !s.Points[1].Timestamp.Equal(day(10)) || *s.Points[1].Value != 90 {
		t.Errorf("second point = %+v, want live 90", s.Points[1])
	}
}

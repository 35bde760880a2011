// Package delta attaches previous-period rank and score to agent records.
package delta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/lookup"
	"agentboard/internal/storage"
)

// Options configures Annotator.
type Options struct {
	Store    storage.CaptureStore
	Location *time.Location // display timezone, default UTC
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Annotator looks up each record in the capture taken before the current day.
type Annotator struct {
	store  storage.CaptureStore
	loc    *time.Location
	clock  clock.Clock
	logger *zap.Logger

	// Captures are immutable under their ID, so the last lookup table is reused.
	mu        sync.Mutex
	memoID    string
	memoByKey map[string]*domain.AgentRecord
}

// New creates an Annotator.
func New(opts Options) *Annotator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Annotator{
		store:  opts.Store,
		loc:    opts.Location,
		clock:  opts.Clock,
		logger: opts.Logger.Named("delta"),
	}
}

// Annotate returns copies of records with PrevScore, PrevRank and
// PrevTimestamp set from the previous capture. Records with no match, or
// no previous capture at all, keep those fields nil.
//
// The previous capture is the latest one strictly before the start of the
// current day. For capture-derived records from an earlier day the current
// day is that capture's day, so a capture is never compared with itself.
func (a *Annotator) Annotate(ctx context.Context, records []*domain.AgentRecord) ([]*domain.AgentRecord, error) {
	out := domain.CloneAgents(records)
	if len(out) == 0 {
		return out, nil
	}

	cutoff := clock.StartOfDay(a.clock.Now(), a.loc)
	if first := out[0]; first.CaptureID != "" && !first.CapturedAt.IsZero() && first.CapturedAt.Before(cutoff) {
		cutoff = clock.StartOfDay(first.CapturedAt, a.loc)
	}

	captures, err := a.store.ListCaptures(ctx)
	if err != nil {
		return out, fmt.Errorf("list captures: %w", err)
	}
	prev, err := lookup.CaptureBefore(cutoff, captures)
	if err != nil {
		if errors.Is(err, lookup.ErrNoCapture) {
			return out, nil
		}
		return out, err
	}

	byKey, err := a.lookupTable(ctx, prev.ID)
	if err != nil {
		return out, err
	}

	prevAt := prev.CreatedAt.In(a.loc)
	for _, r := range out {
		m, ok := byKey[r.Key()]
		if !ok {
			continue
		}
		score := m.Score
		r.PrevScore = &score
		if m.Rank > 0 {
			rank := m.Rank
			r.PrevRank = &rank
		}
		ts := prevAt
		r.PrevTimestamp = &ts
	}
	return out, nil
}

func (a *Annotator) lookupTable(ctx context.Context, captureID string) (map[string]*domain.AgentRecord, error) {
	a.mu.Lock()
	if a.memoID == captureID {
		m := a.memoByKey
		a.mu.Unlock()
		return m, nil
	}
	a.mu.Unlock()

	agents, err := a.store.GetCaptureAgents(ctx, captureID, storage.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("get previous capture agents: %w", err)
	}
	byKey := make(map[string]*domain.AgentRecord, len(agents))
	for _, r := range agents {
		byKey[r.Key()] = r
	}

	a.mu.Lock()
	a.memoID = captureID
	a.memoByKey = byKey
	a.mu.Unlock()

	a.logger.Debug("loaded previous capture", zap.String("capture_id", captureID), zap.Int("agents", len(agents)))
	return byKey, nil
}

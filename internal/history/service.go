package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agentboard/internal/cache"
	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/leaderboard"
	"agentboard/internal/storage"
)

// ErrUnknownAgent is returned when no source has any point for the agent.
var ErrUnknownAgent = errors.New("agent has no history")

// LiveReader is the read side of the live cache.
type LiveReader interface {
	Get(ctx context.Context) cache.Result
}

// Options configures Service.
type Options struct {
	Store    storage.CaptureStore
	Samples  storage.HistoryPointStore // optional; read when Store fails
	Live     LiveReader                // optional
	Location *time.Location
	Baseline *time.Time
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Series is one agent's reconciled metric history.
type Series struct {
	Username string                `json:"username"`
	Metric   domain.Metric         `json:"metric"`
	Points   []domain.HistoryPoint `json:"points"`
}

// Service gathers history inputs and reconciles them.
type Service struct {
	opts   Options
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{opts: opts, logger: opts.Logger.Named("history")}
}

// Series returns the reconciled series of one agent's metric.
func (s *Service) Series(ctx context.Context, identity string, metric domain.Metric) (*Series, error) {
	key := domain.NormalizeUsername(identity)
	if key == "" {
		return nil, ErrUnknownAgent
	}

	rows, err := s.captureRows(ctx, key)
	if err != nil {
		return nil, err
	}

	in := Input{
		Metric:   metric,
		Location: s.opts.Location,
		Now:      s.opts.Clock.Now(),
		Captures: rows,
		Baseline: s.opts.Baseline,
	}

	if s.opts.Live != nil {
		res := s.opts.Live.Get(ctx)
		for _, a := range leaderboard.Rank(res.Agents) {
			if a.Key() == key {
				in.Live = a
				in.LiveAt = res.FetchedAt
				break
			}
		}
	}

	if len(rows) == 0 && in.Live == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, identity)
	}

	username := key
	if in.Live != nil {
		username = in.Live.Username
	} else if len(rows) > 0 {
		username = rows[len(rows)-1].Username
	}

	return &Series{Username: username, Metric: metric, Points: Reconcile(in)}, nil
}

// captureRows reads the agent's capture history from the capture store.
// The samples mirror is only consulted when the store read fails, since
// mirror writes are best-effort and may miss captures.
func (s *Service) captureRows(ctx context.Context, key string) ([]*domain.AgentRecord, error) {
	rows, err := s.opts.Store.GetAgentAcrossCaptures(ctx, key)
	if err == nil {
		return rows, nil
	}
	if s.opts.Samples == nil {
		return nil, fmt.Errorf("get agent across captures: %w", err)
	}

	s.logger.Warn("capture store read failed, using samples mirror", zap.String("agent", key), zap.Error(err))
	samples, merr := s.opts.Samples.GetByUsername(ctx, key)
	if merr != nil {
		return nil, fmt.Errorf("get agent across captures: %w", errors.Join(err, merr))
	}
	rows = make([]*domain.AgentRecord, len(samples))
	for i, smp := range samples {
		rows[i] = smp.Record()
	}
	return rows, nil
}

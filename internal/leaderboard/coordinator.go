package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentboard/internal/cache"
	"agentboard/internal/domain"
	"agentboard/internal/lookup"
	"agentboard/internal/observability"
	"agentboard/internal/storage"
)

// Errors returned by the coordinator.
var (
	ErrNoData        = errors.New("no live data and no capture")
	ErrAgentNotFound = errors.New("agent not in current leaderboard")
)

// Source names where a page came from.
type Source string

// Page sources.
const (
	SourceLive    Source = "live"
	SourceCapture Source = "capture"
	SourceNone    Source = "none"
)

// LiveReader is the read side of the live cache.
type LiveReader interface {
	Get(ctx context.Context) cache.Result
}

// Annotator attaches previous-period fields to records.
type Annotator interface {
	Annotate(ctx context.Context, records []*domain.AgentRecord) ([]*domain.AgentRecord, error)
}

// DetailReader looks up enrichment for one agent.
type DetailReader interface {
	Get(ctx context.Context, identity string) (*domain.AgentDetail, bool)
}

// Sort keys accepted by Query.SortBy.
const (
	SortRank      = "rank"
	SortScore     = "score"
	SortUsername  = "username"
	SortFollowers = "followers"
	SortLikes     = "likes"
	SortRetweets  = "retweets"
	SortReplies   = "replies"
	SortChange    = "change"
)

// Query filters, sorts and pages a leaderboard read.
type Query struct {
	Search   string   // case-insensitive username substring
	MinScore *float64 // inclusive
	SortBy   string   // one of the Sort* keys, default rank
	Desc     bool
	Offset   int
	Limit    int // 0 means all
}

// Page is one leaderboard response. Agents come from a single source.
type Page struct {
	Agents    []*domain.AgentRecord `json:"agents"`
	Total     int                   `json:"total"` // matches before paging
	Source    Source                `json:"source"`
	CaptureID string                `json:"capture_id,omitempty"`
	FetchedAt time.Time             `json:"fetched_at"`
	Stale     bool                  `json:"stale"`
	LiveError string                `json:"live_error,omitempty"`
}

// AgentView is a single agent with best-effort enrichment.
type AgentView struct {
	Agent     *domain.AgentRecord `json:"agent"`
	Posts     []domain.Post       `json:"posts,omitempty"`
	Source    Source              `json:"source"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Options configures Coordinator.
type Options struct {
	Live      LiveReader
	Store     storage.CaptureStore
	Annotator Annotator    // optional
	Details   DetailReader // optional
	Logger    *zap.Logger
}

// Coordinator picks live data when available and falls back to the latest capture.
type Coordinator struct {
	live      LiveReader
	store     storage.CaptureStore
	annotator Annotator
	details   DetailReader
	logger    *zap.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		live:      opts.Live,
		store:     opts.Store,
		annotator: opts.Annotator,
		details:   opts.Details,
		logger:    logger.Named("leaderboard"),
	}
}

// Current returns the filtered, sorted and paged leaderboard.
// When both sources are empty, it returns a page with Source none and an
// error wrapping ErrNoData.
func (c *Coordinator) Current(ctx context.Context, q Query) (*Page, error) {
	base, err := c.base(ctx)
	if err != nil {
		return base, err
	}

	agents := filterAgents(base.Agents, q)
	sortAgents(agents, q.SortBy, q.Desc)
	base.Total = len(agents)
	base.Agents = paginate(agents, q.Offset, q.Limit)
	return base, nil
}

// Agent returns one agent from the current source merged with its detail.
func (c *Coordinator) Agent(ctx context.Context, identity string) (*AgentView, error) {
	key := domain.NormalizeUsername(identity)
	if key == "" {
		return nil, ErrAgentNotFound
	}

	base, err := c.base(ctx)
	if err != nil {
		return nil, err
	}

	var rec *domain.AgentRecord
	for _, a := range base.Agents {
		if a.Key() == key {
			rec = a
			break
		}
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, identity)
	}

	view := &AgentView{Agent: rec, Source: base.Source, FetchedAt: base.FetchedAt}
	if c.details != nil {
		if d, ok := c.details.Get(ctx, key); ok {
			rec.ApplyDetail(d)
			view.Posts = d.Posts
		}
	}
	return view, nil
}

// CaptureStats aggregates a capture against the capture before it.
// An empty captureID means the latest capture.
func (c *Coordinator) CaptureStats(ctx context.Context, captureID string, topN int) (*Stats, error) {
	var (
		capture *domain.Capture
		err     error
	)
	if captureID == "" {
		capture, err = c.store.LatestCapture(ctx)
	} else {
		capture, err = c.store.GetCapture(ctx, captureID)
	}
	if err != nil {
		return nil, fmt.Errorf("get capture: %w", err)
	}

	agents, err := c.store.GetCaptureAgents(ctx, capture.ID, storage.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("get capture agents: %w", err)
	}

	captures, err := c.store.ListCaptures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}

	var prevAgents []*domain.AgentRecord
	prevID := ""
	if prev, err := lookup.CaptureBefore(capture.CreatedAt, captures); err == nil {
		prevID = prev.ID
		prevAgents, err = c.store.GetCaptureAgents(ctx, prev.ID, storage.AgentFilter{})
		if err != nil {
			return nil, fmt.Errorf("get previous capture agents: %w", err)
		}
	}

	st := ComputeStats(agents, prevAgents, topN)
	st.CaptureID = capture.ID
	st.PrevCaptureID = prevID
	return st, nil
}

// base returns the unfiltered, ranked and annotated records of one source.
func (c *Coordinator) base(ctx context.Context) (*Page, error) {
	res := c.live.Get(ctx)
	if !res.Empty() {
		agents := Rank(res.Agents)
		for _, a := range agents {
			a.CapturedAt = res.FetchedAt
		}
		observability.RecordServed(string(SourceLive))
		return &Page{
			Agents:    c.annotate(ctx, agents),
			Source:    SourceLive,
			FetchedAt: res.FetchedAt,
			Stale:     res.Stale,
		}, nil
	}

	liveErr := res.Err
	if liveErr == nil {
		liveErr = cache.ErrEmpty
	}
	c.logger.Info("live source unavailable, falling back to latest capture", zap.Error(liveErr))

	capture, err := c.store.LatestCapture(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			observability.RecordServed(string(SourceNone))
			return &Page{Agents: []*domain.AgentRecord{}, Source: SourceNone, LiveError: liveErr.Error()},
				fmt.Errorf("%w: %w", ErrNoData, liveErr)
		}
		return nil, fmt.Errorf("latest capture: %w", err)
	}

	agents, err := c.store.GetCaptureAgents(ctx, capture.ID, storage.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("get capture agents: %w", err)
	}
	if len(agents) == 0 {
		observability.RecordServed(string(SourceNone))
		return &Page{Agents: []*domain.AgentRecord{}, Source: SourceNone, LiveError: liveErr.Error()},
			fmt.Errorf("%w: %w", ErrNoData, liveErr)
	}

	observability.RecordServed(string(SourceCapture))
	return &Page{
		Agents:    c.annotate(ctx, agents),
		Source:    SourceCapture,
		CaptureID: capture.ID,
		FetchedAt: capture.CreatedAt,
		Stale:     true,
		LiveError: liveErr.Error(),
	}, nil
}

// annotate is best-effort; on failure records are returned without prev fields.
func (c *Coordinator) annotate(ctx context.Context, agents []*domain.AgentRecord) []*domain.AgentRecord {
	if c.annotator == nil {
		return agents
	}
	out, err := c.annotator.Annotate(ctx, agents)
	if err != nil {
		c.logger.Warn("annotate failed", zap.Error(err))
		return agents
	}
	return out
}

func filterAgents(agents []*domain.AgentRecord, q Query) []*domain.AgentRecord {
	search := domain.NormalizeUsername(q.Search)
	out := make([]*domain.AgentRecord, 0, len(agents))
	for _, a := range agents {
		if search != "" && !strings.Contains(a.Key(), search) {
			continue
		}
		if q.MinScore != nil && a.Score < *q.MinScore {
			continue
		}
		out = append(out, a)
	}
	return out
}

// sortAgents orders in place. Missing metrics sort last in either direction;
// rank breaks every tie.
func sortAgents(agents []*domain.AgentRecord, by string, desc bool) {
	if by == "" || by == SortRank {
		sort.SliceStable(agents, func(i, j int) bool {
			if desc {
				return agents[i].Rank > agents[j].Rank
			}
			return agents[i].Rank < agents[j].Rank
		})
		return
	}

	sort.SliceStable(agents, func(i, j int) bool {
		if by == SortUsername {
			a, b := agents[i].Key(), agents[j].Key()
			if a != b {
				return (a < b) != desc
			}
			return agents[i].Rank < agents[j].Rank
		}

		a, aok := sortValue(agents[i], by)
		b, bok := sortValue(agents[j], by)
		switch {
		case aok && !bok:
			return true
		case !aok && bok:
			return false
		case aok && bok && a != b:
			return (a < b) != desc
		}
		return agents[i].Rank < agents[j].Rank
	})
}

func sortValue(a *domain.AgentRecord, by string) (float64, bool) {
	switch by {
	case SortScore:
		return a.Score, true
	case SortChange:
		if a.PrevRank == nil || a.Rank <= 0 {
			return 0, false
		}
		return float64(*a.PrevRank - a.Rank), true
	case SortFollowers, SortLikes, SortRetweets, SortReplies:
		return a.MetricValue(domain.Metric(by))
	}
	return 0, false
}

func paginate(agents []*domain.AgentRecord, offset, limit int) []*domain.AgentRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(agents) {
		return []*domain.AgentRecord{}
	}
	agents = agents[offset:]
	if limit > 0 && limit < len(agents) {
		agents = agents[:limit]
	}
	return agents
}

// ValidSort reports whether by is an accepted sort key.
func ValidSort(by string) bool {
	switch by {
	case "", SortRank, SortScore, SortUsername, SortFollowers, SortLikes, SortRetweets, SortReplies, SortChange:
		return true
	}
	return false
}

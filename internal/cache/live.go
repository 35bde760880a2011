// Package cache holds the in-process caches in front of the ranking source.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/observability"
	"agentboard/internal/ranking"
)

// Default configuration values.
const (
	DefaultLiveTTL         = 60 * time.Second
	DefaultLiveMinInterval = 10 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
)

// Errors reported in Result.Err.
var (
	ErrEmpty     = errors.New("live source returned no agents")
	ErrInFlight  = errors.New("live fetch in flight and nothing cached")
	ErrThrottled = errors.New("live fetch throttled and nothing cached")
)

// FetchFunc reads the full leaderboard from the ranking source.
type FetchFunc func(ctx context.Context) ([]*domain.AgentRecord, error)

// RefreshFunc is notified after each successful fetch.
type RefreshFunc func(agents []*domain.AgentRecord, fetchedAt time.Time)

// LiveOptions configures Live.
type LiveOptions struct {
	Fetch           FetchFunc
	TTL             time.Duration // payload is fresh for TTL after a successful fetch
	MinInterval     time.Duration // minimum gap between fetch attempts
	Timeout         time.Duration // per-fetch deadline
	RefreshInterval time.Duration // background refresh period for Run; 0 disables
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Result is the outcome of a live read.
// Agents is empty only when Err is set.
type Result struct {
	Agents    []*domain.AgentRecord
	FetchedAt time.Time // zero when nothing was ever fetched
	FromCache bool      // no fetch was performed by this call
	Stale     bool      // served past TTL or after a failed fetch
	Err       error     // last fetch error when no payload is available
}

// Empty reports whether the result carries no agents.
func (r Result) Empty() bool {
	return len(r.Agents) == 0
}

// Live is a single-flight, TTL-bounded cache over one leaderboard read.
// At most one fetch is in flight; concurrent readers get the last good payload.
type Live struct {
	opts   LiveOptions
	logger *zap.Logger

	mu          sync.Mutex
	agents      []*domain.AgentRecord
	fetchedAt   time.Time
	freshUntil  time.Time
	lastAttempt time.Time
	lastErr     error
	flight      chan struct{} // non-nil while a fetch runs; closed when it ends

	subsMu sync.Mutex
	subs   []RefreshFunc
}

// NewLive creates a live cache. Fetch is required.
func NewLive(opts LiveOptions) *Live {
	if opts.TTL <= 0 {
		opts.TTL = DefaultLiveTTL
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Live{
		opts:   opts,
		logger: opts.Logger.Named("live_cache"),
	}
}

// OnRefresh registers fn to be called after each successful fetch.
func (c *Live) OnRefresh(fn RefreshFunc) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, fn)
}

// Get returns the cached payload when fresh, otherwise fetches once.
// Get never waits on another caller's fetch.
func (c *Live) Get(ctx context.Context) Result {
	now := c.opts.Clock.Now()

	c.mu.Lock()
	if len(c.agents) > 0 && now.Before(c.freshUntil) {
		res := c.cachedLocked(false)
		c.mu.Unlock()
		observability.RecordCacheRead("live", observability.CacheHit)
		return res
	}
	if c.flight != nil {
		res := c.cachedLocked(true)
		if res.Empty() {
			res.Err = ErrInFlight
		}
		c.mu.Unlock()
		observability.RecordCacheRead("live", observability.CacheInFlight)
		return res
	}
	if c.throttledLocked(now) {
		res := c.cachedLocked(true)
		if res.Empty() {
			res.Err = c.lastErr
			if res.Err == nil {
				res.Err = ErrThrottled
			}
		}
		c.mu.Unlock()
		observability.RecordCacheRead("live", observability.CacheThrottled)
		return res
	}
	done := c.beginLocked(now)
	c.mu.Unlock()

	observability.RecordCacheRead("live", observability.CacheMiss)
	return c.fetch(ctx, done)
}

// Refresh fetches regardless of TTL and throttle. If a fetch is already
// running it waits for that fetch instead of starting another one.
func (c *Live) Refresh(ctx context.Context) Result {
	now := c.opts.Clock.Now()

	c.mu.Lock()
	if flight := c.flight; flight != nil {
		c.mu.Unlock()
		select {
		case <-flight:
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		}
		c.mu.Lock()
		res := c.cachedLocked(true)
		res.Stale = res.FetchedAt.Before(now)
		if res.Empty() {
			res.Err = c.lastErr
		} else if res.Stale && c.lastErr != nil {
			res.Err = c.lastErr
		}
		c.mu.Unlock()
		return res
	}
	done := c.beginLocked(now)
	c.mu.Unlock()

	return c.fetch(ctx, done)
}

// Peek returns whatever is cached without fetching.
func (c *Live) Peek() Result {
	now := c.opts.Clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.cachedLocked(true)
	res.Stale = !now.Before(c.freshUntil)
	if res.Empty() {
		res.Err = c.lastErr
	}
	return res
}

// Invalidate marks the payload stale. It stays available for stale serving.
func (c *Live) Invalidate() {
	c.mu.Lock()
	c.freshUntil = time.Time{}
	c.mu.Unlock()
}

// Run refreshes the payload every RefreshInterval until ctx is cancelled,
// so readers are served from a warm cache. Returns nil on cancellation.
func (c *Live) Run(ctx context.Context) error {
	if c.opts.RefreshInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := c.opts.Clock.Now()
			c.mu.Lock()
			if c.flight != nil || c.throttledLocked(now) {
				c.mu.Unlock()
				continue
			}
			done := c.beginLocked(now)
			c.mu.Unlock()

			res := c.fetch(ctx, done)
			if res.Err != nil || (res.Stale && !res.Empty()) {
				c.logger.Debug("background refresh failed, serving stale", zap.Error(c.LastError()))
			}
		}
	}
}

// LastError returns the error of the most recent failed fetch, nil after a success.
func (c *Live) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Live) throttledLocked(now time.Time) bool {
	return c.opts.MinInterval > 0 && !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.opts.MinInterval
}

// beginLocked marks a fetch as in flight. Caller holds mu.
func (c *Live) beginLocked(now time.Time) chan struct{} {
	done := make(chan struct{})
	c.flight = done
	c.lastAttempt = now
	return done
}

// cachedLocked copies the current payload into a Result. Caller holds mu.
func (c *Live) cachedLocked(stale bool) Result {
	return Result{
		Agents:    domain.CloneAgents(c.agents),
		FetchedAt: c.fetchedAt,
		FromCache: true,
		Stale:     stale && len(c.agents) > 0,
	}
}

// fetch performs the network call and publishes its outcome.
func (c *Live) fetch(ctx context.Context, done chan struct{}) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	agents, err := c.opts.Fetch(fetchCtx)
	if err == nil && len(agents) == 0 {
		err = ErrEmpty
	}
	observability.RecordUpstreamFetch("leaderboard", time.Since(start), fetchErrorReason(err), err)

	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		res := c.cachedLocked(true)
		if res.Empty() {
			res.Err = err
		}
		c.flight = nil
		close(done)
		c.mu.Unlock()

		if res.Empty() {
			observability.RecordCacheRead("live", observability.CacheEmpty)
		} else {
			observability.RecordCacheRead("live", observability.CacheStale)
		}
		c.logger.Warn("live fetch failed",
			zap.Error(err),
			zap.Bool("serving_stale", !res.Empty()),
		)
		return res
	}

	now := c.opts.Clock.Now()
	c.agents = domain.CloneAgents(agents)
	c.fetchedAt = now
	c.freshUntil = now.Add(c.opts.TTL)
	c.lastErr = nil
	c.flight = nil
	close(done)
	res := Result{Agents: domain.CloneAgents(c.agents), FetchedAt: now}
	c.mu.Unlock()

	c.logger.Debug("live fetch succeeded", zap.Int("agents", len(agents)))
	c.notify(res.Agents, now)
	return res
}

func (c *Live) notify(agents []*domain.AgentRecord, at time.Time) {
	c.subsMu.Lock()
	subs := append([]RefreshFunc(nil), c.subs...)
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(domain.CloneAgents(agents), at)
	}
}

func fetchErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ranking.ErrUnexpectedShape):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

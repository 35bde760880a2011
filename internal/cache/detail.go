package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/observability"
)

// Default configuration values.
const (
	DefaultDetailTTL = 10 * time.Minute
	DefaultDetailMax = 500
)

// evictFraction is the share of entries purged when the cache is full.
const evictFraction = 5 // 1/5 = 20%

var errNoDetail = errors.New("detail source returned nothing")

// DetailFetchFunc reads one agent's enrichment payload.
type DetailFetchFunc func(ctx context.Context, username string) (*domain.AgentDetail, error)

// DetailOptions configures Detail.
type DetailOptions struct {
	Fetch   DetailFetchFunc
	TTL     time.Duration
	Max     int // entry bound; inserting a new key into a full cache evicts first
	Timeout time.Duration
	Clock   clock.Clock
	Logger  *zap.Logger
}

type detailEntry struct {
	detail    *domain.AgentDetail
	fetchedAt time.Time
}

// Detail is a bounded per-agent cache for enrichment lookups.
type Detail struct {
	opts   DetailOptions
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]*detailEntry
}

// NewDetail creates a detail cache. Fetch is required.
func NewDetail(opts DetailOptions) *Detail {
	if opts.TTL <= 0 {
		opts.TTL = DefaultDetailTTL
	}
	if opts.Max <= 0 {
		opts.Max = DefaultDetailMax
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
	return &Detail{
		opts:    opts,
		logger:  opts.Logger.Named("detail_cache"),
		entries: make(map[string]*detailEntry),
	}
}

// Get returns the agent's detail, fetching on miss or expiry.
// A failed fetch falls back to the stale entry; with none, ok is false.
func (c *Detail) Get(ctx context.Context, identity string) (*domain.AgentDetail, bool) {
	key := domain.NormalizeUsername(identity)
	if key == "" {
		return nil, false
	}

	now := c.opts.Clock.Now()
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Sub(e.fetchedAt) < c.opts.TTL {
		d := copyDetail(e.detail)
		c.mu.Unlock()
		observability.RecordCacheRead("detail", observability.CacheHit)
		return d, true
	}
	c.mu.Unlock()
	observability.RecordCacheRead("detail", observability.CacheMiss)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not abort it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()

		start := time.Now()
		d, err := c.opts.Fetch(fetchCtx, key)
		if err == nil && d == nil {
			err = errNoDetail
		}
		observability.RecordUpstreamFetch("detail", time.Since(start), fetchErrorReason(err), err)
		if err != nil {
			return nil, err
		}
		c.insert(key, d)
		return d, nil
	})
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries[key]; ok {
			c.logger.Debug("detail fetch failed, serving stale", zap.String("agent", key), zap.Error(err))
			observability.RecordCacheRead("detail", observability.CacheStale)
			return copyDetail(e.detail), true
		}
		c.logger.Debug("detail fetch failed", zap.String("agent", key), zap.Error(err))
		return nil, false
	}
	return copyDetail(v.(*domain.AgentDetail)), true
}

// Len returns the number of cached entries.
func (c *Detail) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// insert stores d, evicting the oldest entries first when a new key would overflow.
func (c *Detail) insert(key string, d *domain.AgentDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.Max {
		c.evictLocked()
	}
	c.entries[key] = &detailEntry{detail: copyDetail(d), fetchedAt: c.opts.Clock.Now()}
	observability.UpdateCacheEntries("detail", len(c.entries))
}

// evictLocked removes the oldest ~20% of entries by fetch time, at least one.
func (c *Detail) evictLocked() {
	n := len(c.entries) / evictFraction
	if n < 1 {
		n = 1
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].fetchedAt, c.entries[keys[j]].fetchedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})

	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
	observability.RecordCacheEvictions("detail", n)
	c.logger.Debug("evicted detail entries", zap.Int("evicted", n), zap.Int("remaining", len(c.entries)))
}

func copyDetail(d *domain.AgentDetail) *domain.AgentDetail {
	if d == nil {
		return nil
	}
	out := *d
	if d.Posts != nil {
		out.Posts = append([]domain.Post(nil), d.Posts...)
	}
	return &out
}

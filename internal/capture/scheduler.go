// Package capture takes the daily durable capture of the leaderboard.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentboard/internal/cache"
	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/leaderboard"
	"agentboard/internal/observability"
	"agentboard/internal/solana"
	"agentboard/internal/storage"
)

// Default configuration values.
const (
	DefaultEnrichDelay = 250 * time.Millisecond
)

// Policy decides what a scheduled run does when today's capture exists.
type Policy string

// Policies.
const (
	PolicyKeep    Policy = "keep"
	PolicyReplace Policy = "replace"
)

// ParsePolicy validates a policy name. Empty input means keep.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyReplace:
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("unknown capture policy %q", s)
}

// Outcome is the result of one capture attempt.
type Outcome string

// Outcomes.
const (
	OutcomeCreated       Outcome = "created"
	OutcomeReplaced      Outcome = "replaced"
	OutcomeReplaceFailed Outcome = "replace_failed" // new capture stored, old one still present
	OutcomeSkippedExists Outcome = "skipped_exists"
	OutcomeSkippedBusy   Outcome = "skipped_busy"
	OutcomeAbandoned     Outcome = "abandoned"
	OutcomeFailed        Outcome = "failed"
)

// ErrNoAgents is reported when the live list is empty or unavailable.
var ErrNoAgents = errors.New("live source returned no agents")

// LiveRefresher fetches the leaderboard bypassing the cache TTL.
type LiveRefresher interface {
	Refresh(ctx context.Context) cache.Result
}

// DetailReader looks up enrichment for one agent.
type DetailReader interface {
	Get(ctx context.Context, identity string) (*domain.AgentDetail, bool)
}

// Options configures Scheduler.
type Options struct {
	Store   storage.CaptureStore
	History storage.HistoryPointStore // optional analytics mirror
	Live    LiveRefresher
	Details DetailReader         // optional
	Wallets solana.BalanceClient // optional

	Location       *time.Location  // scheduling timezone, default UTC
	At             clock.TimeOfDay // daily trigger time
	SafetyInterval time.Duration   // 0 disables the safety check
	Policy         Policy
	EnrichDelay    time.Duration

	Clock  clock.Clock
	Logger *zap.Logger

	// Sleep waits between enrichment calls. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID generates capture IDs. Defaults to uuid.NewString.
	NewID func() string
}

// Report describes one capture attempt.
type Report struct {
	Outcome         Outcome   `json:"outcome"`
	CaptureID       string    `json:"capture_id,omitempty"`
	ReplacedID      string    `json:"replaced_id,omitempty"`
	Agents          int       `json:"agents"`
	Enriched        int       `json:"enriched"`
	EnrichFailures  int       `json:"enrich_failures"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

// Status is a snapshot of scheduler state.
type Status struct {
	Running       bool      `json:"running"`
	Runs          int       `json:"runs"`
	LastRun       time.Time `json:"last_run"`
	LastOutcome   Outcome   `json:"last_outcome,omitempty"`
	LastCaptureID string    `json:"last_capture_id,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	NextRun       time.Time `json:"next_run"`
}

// Scheduler keeps one capture per calendar day.
// At most one capture run executes at a time; overlapping triggers are dropped.
type Scheduler struct {
	opts   Options
	logger *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Policy == "" {
		opts.Policy = PolicyKeep
	}
	if opts.EnrichDelay < 0 {
		opts.EnrichDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Scheduler{
		opts:   opts,
		logger: opts.Logger.Named("scheduler"),
	}
}

// Startup creates a capture when none exists at all, or none exists today.
func (s *Scheduler) Startup(ctx context.Context) (*Report, error) {
	return s.exclusive(ctx, "startup", func(ctx context.Context) (*Report, error) {
		captures, err := s.opts.Store.ListCaptures(ctx)
		if err != nil {
			return nil, fmt.Errorf("list captures: %w", err)
		}
		if len(captures) == 0 {
			return s.create(ctx, "initial capture", nil)
		}
		if s.todays(captures) != nil {
			return &Report{Outcome: OutcomeSkippedExists}, nil
		}
		return s.create(ctx, s.describe("daily capture"), nil)
	})
}

// Check creates today's capture if it is missing. It never replaces.
func (s *Scheduler) Check(ctx context.Context) (*Report, error) {
	return s.exclusive(ctx, "check", func(ctx context.Context) (*Report, error) {
		existing, err := s.today(ctx)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &Report{Outcome: OutcomeSkippedExists, CaptureID: existing.ID}, nil
		}
		return s.create(ctx, s.describe("daily capture"), nil)
	})
}

// DailyRun is the scheduled trigger: it creates today's capture, or replaces
// it when the policy is replace.
func (s *Scheduler) DailyRun(ctx context.Context) (*Report, error) {
	return s.exclusive(ctx, "daily", func(ctx context.Context) (*Report, error) {
		existing, err := s.today(ctx)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return s.create(ctx, s.describe("daily capture"), nil)
		}
		if s.opts.Policy != PolicyReplace {
			return &Report{Outcome: OutcomeSkippedExists, CaptureID: existing.ID}, nil
		}
		return s.create(ctx, s.describe("daily capture"), existing)
	})
}

// Trigger takes a capture on demand. Under the replace policy an existing
// capture for today is replaced; otherwise a new capture is added.
func (s *Scheduler) Trigger(ctx context.Context, reason string) (*Report, error) {
	return s.exclusive(ctx, "manual", func(ctx context.Context) (*Report, error) {
		var existing *domain.Capture
		if s.opts.Policy == PolicyReplace {
			var err error
			if existing, err = s.today(ctx); err != nil {
				return nil, err
			}
		}
		desc := s.describe("manual capture")
		if reason != "" {
			desc += ": " + reason
		}
		return s.create(ctx, desc, existing)
	})
}

// Run fires DailyRun at the configured time each day and Check every
// SafetyInterval, until ctx is cancelled. Returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	var safety <-chan time.Time
	if s.opts.SafetyInterval > 0 {
		ticker := time.NewTicker(s.opts.SafetyInterval)
		defer ticker.Stop()
		safety = ticker.C
	}

	for {
		now := s.opts.Clock.Now()
		next := s.opts.At.Next(now, s.opts.Location)
		s.mu.Lock()
		s.status.NextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.logRun(s.DailyRun(ctx))
		case <-safety:
			timer.Stop()
			s.logRun(s.Check(ctx))
		}
	}
}

// Status returns a snapshot of scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running.Load()
	return st
}

func (s *Scheduler) logRun(r *Report, err error) {
	if err != nil {
		s.logger.Error("capture run failed", zap.Error(err))
		return
	}
	s.logger.Debug("capture run finished", zap.String("outcome", string(r.Outcome)))
}

// exclusive runs fn unless another run is active, recording the outcome.
func (s *Scheduler) exclusive(ctx context.Context, trigger string, fn func(context.Context) (*Report, error)) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("capture already running, trigger dropped", zap.String("trigger", trigger))
		observability.RecordCaptureRun(string(OutcomeSkippedBusy), 0, 0)
		return &Report{Outcome: OutcomeSkippedBusy}, nil
	}
	defer s.running.Store(false)

	start := time.Now()
	report, err := fn(ctx)
	if report == nil {
		report = &Report{Outcome: OutcomeFailed}
	}
	report.DurationSeconds = time.Since(start).Seconds()

	s.mu.Lock()
	s.status.Runs++
	s.status.LastRun = s.opts.Clock.Now()
	s.status.LastOutcome = report.Outcome
	if report.CaptureID != "" {
		s.status.LastCaptureID = report.CaptureID
	}
	s.status.LastError = report.Error
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	observability.RecordCaptureRun(string(report.Outcome), time.Since(start), report.Agents)
	s.logger.Info("capture run",
		zap.String("trigger", trigger),
		zap.String("outcome", string(report.Outcome)),
		zap.String("capture_id", report.CaptureID),
		zap.Int("agents", report.Agents),
		zap.Int("enrich_failures", report.EnrichFailures),
		zap.Error(err),
	)
	return report, err
}

// today returns the newest capture inside today's bounds, or nil.
func (s *Scheduler) today(ctx context.Context) (*domain.Capture, error) {
	captures, err := s.opts.Store.ListCaptures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	return s.todays(captures), nil
}

func (s *Scheduler) todays(captures []*domain.Capture) *domain.Capture {
	start, end := clock.DayBounds(s.opts.Clock.Now(), s.opts.Location)
	var found *domain.Capture
	for _, c := range captures {
		if c.CreatedAt.Before(start) || !c.CreatedAt.Before(end) {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			found = c
		}
	}
	return found
}

func (s *Scheduler) describe(kind string) string {
	return fmt.Sprintf("%s %s", kind, clock.DayKey(s.opts.Clock.Now(), s.opts.Location))
}

// create fetches, ranks and stores a new capture, then enriches it.
// When replacing is set, it is deleted once the new capture is stored.
// A failed or empty fetch abandons the run before anything is written.
func (s *Scheduler) create(ctx context.Context, description string, replacing *domain.Capture) (*Report, error) {
	res := s.opts.Live.Refresh(ctx)
	if res.Empty() || res.Stale {
		err := res.Err
		if err == nil {
			err = ErrNoAgents
		}
		return &Report{Outcome: OutcomeAbandoned}, fmt.Errorf("fetch leaderboard: %w", err)
	}

	agents := leaderboard.Rank(res.Agents)
	c := &domain.Capture{
		ID:          s.opts.NewID(),
		CreatedAt:   s.opts.Clock.Now(),
		Description: description,
	}
	for _, a := range agents {
		a.CaptureID = c.ID
		a.CapturedAt = c.CreatedAt
	}

	if err := s.opts.Store.CreateCapture(ctx, c, agents); err != nil {
		return &Report{Outcome: OutcomeFailed}, fmt.Errorf("create capture: %w", err)
	}

	report := &Report{Outcome: OutcomeCreated, CaptureID: c.ID, Agents: len(agents), CreatedAt: c.CreatedAt}

	if replacing != nil {
		if err := s.opts.Store.DeleteCapture(ctx, replacing.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("delete replaced capture failed, two captures exist for today",
				zap.String("capture_id", c.ID), zap.String("replaced_id", replacing.ID), zap.Error(err))
			report.Outcome = OutcomeReplaceFailed
			report.Error = fmt.Sprintf("delete replaced capture %s: %v", replacing.ID, err)
			replacing = nil
		} else {
			report.Outcome = OutcomeReplaced
			report.ReplacedID = replacing.ID
		}
	}

	s.mirror(ctx, c, agents, replacing)
	report.Enriched, report.EnrichFailures = s.enrich(ctx, agents)
	return report, nil
}

// mirror copies the capture's samples to the history store. Best-effort.
func (s *Scheduler) mirror(ctx context.Context, c *domain.Capture, agents []*domain.AgentRecord, replacing *domain.Capture) {
	if s.opts.History == nil {
		return
	}
	if replacing != nil {
		if err := s.opts.History.DeleteByCapture(ctx, replacing.ID); err != nil {
			s.logger.Warn("delete replaced samples failed", zap.String("capture_id", replacing.ID), zap.Error(err))
		}
	}
	samples := make([]*domain.AgentSample, len(agents))
	for i, a := range agents {
		samples[i] = domain.SampleOf(a)
	}
	if err := s.opts.History.InsertBulk(ctx, samples); err != nil {
		s.logger.Warn("mirror samples failed", zap.String("capture_id", c.ID), zap.Error(err))
	}
}

// enrich fills detail and wallet fields one agent at a time.
// A failure on one agent is logged and skipped.
func (s *Scheduler) enrich(ctx context.Context, agents []*domain.AgentRecord) (enriched, failed int) {
	if s.opts.Details == nil && s.opts.Wallets == nil {
		return 0, 0
	}

	for i, a := range agents {
		if i > 0 && s.opts.EnrichDelay > 0 {
			if err := s.opts.Sleep(ctx, s.opts.EnrichDelay); err != nil {
				s.logger.Warn("enrichment interrupted", zap.Int("remaining", len(agents)-i), zap.Error(err))
				return enriched, failed
			}
		}

		changed, err := s.enrichOne(ctx, a)
		if err != nil {
			failed++
			observability.RecordEnrichmentFailure()
			s.logger.Warn("enrich agent failed", zap.String("agent", a.Username), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		if err := s.opts.Store.UpdateEnrichment(ctx, a); err != nil {
			failed++
			observability.RecordEnrichmentFailure()
			s.logger.Warn("store enrichment failed", zap.String("agent", a.Username), zap.Error(err))
			continue
		}
		enriched++
	}
	return enriched, failed
}

var errNoDetail = errors.New("no detail available")

func (s *Scheduler) enrichOne(ctx context.Context, a *domain.AgentRecord) (bool, error) {
	changed := false
	if s.opts.Details != nil {
		d, ok := s.opts.Details.Get(ctx, a.Username)
		if !ok {
			return false, errNoDetail
		}
		changed = a.ApplyDetail(d)
	}

	if s.opts.Wallets == nil || a.WalletAddress == nil {
		return changed, nil
	}
	if err := solana.ValidateWallet(*a.WalletAddress); err != nil {
		s.logger.Debug("skipping wallet balance", zap.String("agent", a.Username), zap.Error(err))
		return changed, nil
	}
	lamports, err := s.opts.Wallets.GetBalance(ctx, *a.WalletAddress)
	if err != nil {
		// Detail fields already merged are still worth storing
		s.logger.Warn("wallet balance failed", zap.String("agent", a.Username), zap.Error(err))
		return changed, nil
	}
	balance := solana.FormatSOL(lamports)
	if a.WalletBalance == nil || *a.WalletBalance != balance {
		a.WalletBalance = &balance
		changed = true
	}
	return changed, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

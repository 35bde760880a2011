// Package api exposes the leaderboard engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agentboard/internal/cache"
	"agentboard/internal/capture"
	"agentboard/internal/domain"
	"agentboard/internal/history"
	"agentboard/internal/leaderboard"
	"agentboard/internal/observability"
	"agentboard/internal/storage"
)

// Board serves leaderboard reads.
type Board interface {
	Current(ctx context.Context, q leaderboard.Query) (*leaderboard.Page, error)
	Agent(ctx context.Context, identity string) (*leaderboard.AgentView, error)
	CaptureStats(ctx context.Context, captureID string, topN int) (*leaderboard.Stats, error)
}

// HistoryReader serves per-agent series.
type HistoryReader interface {
	Series(ctx context.Context, identity string, metric domain.Metric) (*history.Series, error)
}

// Capturer takes captures on demand.
type Capturer interface {
	Trigger(ctx context.Context, reason string) (*capture.Report, error)
	Status() capture.Status
}

// LivePeeker reports the live cache state without fetching.
type LivePeeker interface {
	Peek() cache.Result
}

// Feed is the websocket endpoint.
type Feed interface {
	http.Handler
	Clients() int
}

// Options configures Server.
type Options struct {
	Board    Board
	History  HistoryReader
	Store    storage.CaptureStore
	Capturer Capturer   // optional; disables POST /api/captures when nil
	Live     LivePeeker // optional
	Feed     Feed       // optional; disables /ws when nil
	Logger   *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	opts   Options
	logger *zap.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{opts: opts, logger: opts.Logger.Named("api")}
}

// SetupRouter registers all routes.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	if s.opts.Feed != nil {
		r.GET("/ws", gin.WrapH(s.opts.Feed))
	}

	api := r.Group("/api")
	api.GET("/leaderboard", s.Leaderboard)
	api.GET("/agents/:username", s.Agent)
	api.GET("/agents/:username/history", s.History)
	api.GET("/captures", s.Captures)
	api.GET("/captures/:id/agents", s.CaptureAgents)
	api.GET("/captures/:id/stats", s.CaptureStats)
	api.POST("/captures", s.TriggerCapture)
	api.GET("/status", s.Status)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Leaderboard serves the current leaderboard with its source.
//
// Query parameters: search, min_score, sort, order (asc|desc), offset, limit.
func (s *Server) Leaderboard(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.opts.Board.Current(c.Request.Context(), q)
	if errors.Is(err, leaderboard.ErrNoData) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "source": leaderboard.SourceNone})
		return
	}
	if err != nil {
		s.logger.Error("leaderboard read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read leaderboard"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseQuery(c *gin.Context) (leaderboard.Query, error) {
	q := leaderboard.Query{
		Search: c.Query("search"),
		SortBy: c.DefaultQuery("sort", leaderboard.SortRank),
	}
	if !leaderboard.ValidSort(q.SortBy) {
		return q, errors.New("invalid sort")
	}

	switch c.DefaultQuery("order", "") {
	case "":
		q.Desc = q.SortBy != leaderboard.SortRank && q.SortBy != leaderboard.SortUsername
	case "asc":
	case "desc":
		q.Desc = true
	default:
		return q, errors.New("invalid order")
	}

	if v := c.Query("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return q, errors.New("invalid min_score")
		}
		q.MinScore = &f
	}

	var err error
	if q.Offset, err = intParam(c, "offset", 0); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(c, "limit", 0); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// Agent serves one agent merged with its detail.
func (s *Server) Agent(c *gin.Context) {
	view, err := s.opts.Board.Agent(c.Request.Context(), c.Param("username"))
	switch {
	case errors.Is(err, leaderboard.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	case errors.Is(err, leaderboard.ErrNoData):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("agent read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read agent"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// History serves the reconciled series for ?metric= (default score).
func (s *Server) History(c *gin.Context) {
	metric, err := domain.ParseMetric(c.Query("metric"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series, err := s.opts.History.Series(c.Request.Context(), c.Param("username"), metric)
	if errors.Is(err, history.ErrUnknownAgent) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	if err != nil {
		s.logger.Error("history read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}
	c.JSON(http.StatusOK, series)
}

// Captures lists captures, newest first.
func (s *Server) Captures(c *gin.Context) {
	captures, err := s.opts.Store.ListCaptures(c.Request.Context())
	if err != nil {
		s.logger.Error("list captures failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list captures"})
		return
	}
	if captures == nil {
		captures = []*domain.Capture{}
	}
	c.JSON(http.StatusOK, gin.H{"captures": captures})
}

// CaptureAgents lists the ranked agents of one capture.
func (s *Server) CaptureAgents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	capt, err := s.opts.Store.GetCapture(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
		return
	}
	if err != nil {
		s.logger.Error("get capture failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read capture"})
		return
	}

	limit, err := intParam(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agents, err := s.opts.Store.GetCaptureAgents(ctx, id, storage.AgentFilter{Limit: limit})
	if err != nil {
		s.logger.Error("get capture agents failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read capture"})
		return
	}
	if agents == nil {
		agents = []*domain.AgentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"capture": capt, "agents": agents})
}

// CaptureStats serves aggregates of a capture; id "latest" picks the newest.
func (s *Server) CaptureStats(c *gin.Context) {
	id := c.Param("id")
	if id == "latest" {
		id = ""
	}
	top, err := intParam(c, "top", leaderboard.DefaultTopMovers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := s.opts.Board.CaptureStats(c.Request.Context(), id, top)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
		return
	}
	if err != nil {
		s.logger.Error("capture stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// TriggerCaptureRequest is the body of POST /api/captures.
type TriggerCaptureRequest struct {
	Reason string `json:"reason"`
}

// TriggerCapture takes a manual capture.
func (s *Server) TriggerCapture(c *gin.Context) {
	if s.opts.Capturer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Capture is disabled"})
		return
	}

	var req TriggerCaptureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	// The capture outlives a client that disconnects mid-enrichment.
	report, err := s.opts.Capturer.Trigger(context.WithoutCancel(c.Request.Context()), req.Reason)
	switch {
	case err != nil:
		s.logger.Warn("manual capture failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
	case report.Outcome == capture.OutcomeSkippedBusy:
		c.JSON(http.StatusConflict, gin.H{"error": "Capture already running", "report": report})
	default:
		c.JSON(http.StatusCreated, report)
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Scheduler   *capture.Status `json:"scheduler,omitempty"`
	LiveAgents  int             `json:"live_agents"`
	LiveFetched time.Time       `json:"live_fetched_at"`
	LiveStale   bool            `json:"live_stale"`
	LiveError   string          `json:"live_error,omitempty"`
	FeedClients int             `json:"feed_clients"`
}

// Status reports scheduler and cache state.
func (s *Server) Status(c *gin.Context) {
	var resp StatusResponse
	if s.opts.Capturer != nil {
		st := s.opts.Capturer.Status()
		resp.Scheduler = &st
	}
	if s.opts.Live != nil {
		res := s.opts.Live.Peek()
		resp.LiveAgents = len(res.Agents)
		resp.LiveFetched = res.FetchedAt
		resp.LiveStale = res.Stale
		if res.Err != nil {
			resp.LiveError = res.Err.Error()
		}
	}
	if s.opts.Feed != nil {
		resp.FeedClients = s.opts.Feed.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

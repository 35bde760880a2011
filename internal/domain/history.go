package domain

import (
	"fmt"
	"strings"
	"time"
)

// Metric names a per-agent value that can be charted over time.
type Metric string

// Supported metrics.
const (
	MetricScore     Metric = "score"
	MetricRank      Metric = "rank"
	MetricFollowers Metric = "followers"
	MetricLikes     Metric = "likes"
	MetricRetweets  Metric = "retweets"
	MetricReplies   Metric = "replies"
)

// ParseMetric validates a metric name. Empty input means score.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return MetricScore, nil
	case MetricScore, MetricRank, MetricFollowers, MetricLikes, MetricRetweets, MetricReplies:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// PointSource tells where a history point came from.
type PointSource string

// Point sources.
const (
	PointFromCapture      PointSource = "capture"
	PointFromLive         PointSource = "live"
	PointFromBaseline     PointSource = "baseline"
	PointFromInterpolated PointSource = "interpolated"
	PointFromCarried      PointSource = "carried"
)

// HistoryPoint is one (timestamp, value) sample for one agent's metric.
// Value is nil when no earlier known value exists to fill the gap.
type HistoryPoint struct {
	Timestamp time.Time   `json:"timestamp"`
	Label     string      `json:"label"` // calendar day in the display timezone
	Value     *float64    `json:"value"`
	Source    PointSource `json:"source"`
}

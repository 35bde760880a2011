// Package history builds the per-agent time series from captures, the live
// reading and an optional baseline.
package history

import (
	"sort"
	"time"

	"agentboard/internal/clock"
	"agentboard/internal/domain"
	"agentboard/internal/lookup"
)

// Input is everything Reconcile needs. It is not modified.
type Input struct {
	Metric   domain.Metric
	Location *time.Location // display timezone, default UTC
	Now      time.Time      // decides which day is today

	// Captures are the agent's capture rows, in any order.
	Captures []*domain.AgentRecord

	// Live is the current live reading, taken at LiveAt. Optional.
	Live   *domain.AgentRecord
	LiveAt time.Time

	// Baseline, when set, anchors the series at value 0 on that day.
	Baseline *time.Time
}

type candidate struct {
	at        time.Time
	value     *float64
	source    domain.PointSource
	captureID string
}

// Reconcile merges the inputs into one point per calendar day, ascending.
//
// Today's live reading replaces a same-day capture; on any other day the
// capture wins, and among captures of one day the latest wins. Points
// lacking the metric are filled by time-weighted interpolation between the
// nearest known values, carried forward when no later value exists, and left
// nil when no earlier value exists. Reconcile is deterministic.
func Reconcile(in Input) []domain.HistoryPoint {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	today := clock.DayKey(in.Now, loc)

	liveDay := ""
	if in.Live != nil {
		liveDay = clock.DayKey(in.LiveAt, loc)
	}

	days := make(map[string]*candidate)

	for _, r := range in.Captures {
		if r == nil {
			continue
		}
		day := clock.DayKey(r.CapturedAt, loc)
		if day == today && liveDay == today {
			continue
		}
		c := &candidate{at: r.CapturedAt, value: metricValue(r, in.Metric), source: domain.PointFromCapture, captureID: r.CaptureID}
		if cur, ok := days[day]; ok && !laterCapture(c, cur) {
			continue
		}
		days[day] = c
	}

	if in.Live != nil {
		if _, taken := days[liveDay]; !taken || liveDay == today {
			days[liveDay] = &candidate{at: in.LiveAt, value: metricValue(in.Live, in.Metric), source: domain.PointFromLive}
		}
	}

	if in.Baseline != nil && in.Metric != domain.MetricRank {
		baseDay := clock.DayKey(*in.Baseline, loc)
		if _, taken := days[baseDay]; !taken && !hasDayBefore(days, baseDay) {
			zero := 0.0
			days[baseDay] = &candidate{at: clock.StartOfDay(*in.Baseline, loc), value: &zero, source: domain.PointFromBaseline}
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	known := make([]lookup.Known, 0, len(keys))
	for _, k := range keys {
		if c := days[k]; c.value != nil {
			known = append(known, lookup.Known{At: c.at, Value: *c.value})
		}
	}

	points := make([]domain.HistoryPoint, 0, len(keys))
	for _, k := range keys {
		c := days[k]
		p := domain.HistoryPoint{
			Timestamp: c.at.In(loc),
			Label:     k,
			Value:     c.value,
			Source:    c.source,
		}
		if p.Value == nil {
			p.Value, p.Source = fill(c.at, known)
			if p.Value == nil {
				p.Source = c.source
			}
		}
		points = append(points, p)
	}
	return points
}

// fill estimates a missing value at t from the known values around it.
func fill(t time.Time, known []lookup.Known) (*float64, domain.PointSource) {
	prev, next := lookup.Neighbors(t, known)
	switch {
	case prev == nil:
		return nil, ""
	case next == nil:
		v := prev.Value
		return &v, domain.PointFromCarried
	}
	v := lookup.Between(t, *prev, *next)
	return &v, domain.PointFromInterpolated
}

func metricValue(r *domain.AgentRecord, m domain.Metric) *float64 {
	v, ok := r.MetricValue(m)
	if !ok {
		return nil
	}
	return &v
}

// laterCapture orders same-day captures by time, then by capture ID.
func laterCapture(a, b *candidate) bool {
	if !a.at.Equal(b.at) {
		return a.at.After(b.at)
	}
	return a.captureID > b.captureID
}

func hasDayBefore(days map[string]*candidate, day string) bool {
	for k := range days {
		if k < day {
			return true
		}
	}
	return false
}

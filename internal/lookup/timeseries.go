package lookup

import (
	"errors"
	"sort"
	"time"

	"agentboard/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoCapture = errors.New("no capture before cutoff")
)

// CaptureBefore returns the latest capture created strictly before cutoff.
// Captures may be in any order. Ties on CreatedAt resolve to the larger ID.
// Returns ErrNoCapture if none qualifies.
func CaptureBefore(cutoff time.Time, captures []*domain.Capture) (*domain.Capture, error) {
	var best *domain.Capture
	for _, c := range captures {
		if c == nil || !c.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNoCapture
	}
	return best, nil
}

// Known is a metric value observed at a point in time.
type Known struct {
	At    time.Time
	Value float64
}

// Neighbors returns the closest known value at or before target and the
// closest strictly after target. known must be sorted by At ascending.
// Either result is nil when no such value exists.
func Neighbors(target time.Time, known []Known) (prev, next *Known) {
	i := sort.Search(len(known), func(i int) bool {
		return known[i].At.After(target)
	})
	if i > 0 {
		prev = &known[i-1]
	}
	if i < len(known) {
		next = &known[i]
	}
	return prev, next
}

// Between returns the value at target on the straight line from a to b,
// weighted by elapsed time. Returns a.Value when a and b coincide.
func Between(target time.Time, a, b Known) float64 {
	span := b.At.Sub(a.At)
	if span <= 0 {
		return a.Value
	}
	frac := float64(target.Sub(a.At)) / float64(span)
	return a.Value + (b.Value-a.Value)*frac
}

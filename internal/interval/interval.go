// Package interval defines the half-open time interval used by schedule
// conflict checks and the read projection that supplies booked intervals.
package interval

import (
	"context"
	"time"
)

// Interval is a half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether the interval is non-empty.
func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether two half-open intervals intersect.
// Touching intervals ([a,b) and [b,c)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Booked is one occupied interval of a user's calendar, carrying enough
// schedule context to describe a conflict to the caller.
type Booked struct {
	ScheduleID int64
	Title      string
	Span       Interval
}

// Source yields a user's booked intervals ordered by start time.
// excludeScheduleID drops the intervals contributed by one schedule, so a
// schedule being moved is never compared against itself.
type Source interface {
	BookedIntervals(ctx context.Context, userID int64, excludeScheduleID int64) ([]Booked, error)
}

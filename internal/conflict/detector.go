// Package conflict detects schedule collisions for a candidate time range.
// The same scan runs when a change is proposed and again, inside the store
// transaction, when it is approved.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"teamplan/internal/interval"
)

var (
	// ErrInvalidRange rejects candidate ranges where start is not before end.
	ErrInvalidRange = errors.New("invalid range: start must be before end")

	// ErrUnknownParticipant guards against orphaned participant ids.
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Conflict describes one collision between a candidate range and an
// existing schedule of one participant.
type Conflict struct {
	UserID     int64     `json:"user_id"`
	ScheduleID int64     `json:"schedule_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Error carries the full conflict list so callers can report every
// collision at once instead of the first one found.
type Error struct {
	Conflicts []Conflict
}

func (e *Error) Error() string {
	return fmt.Sprintf("schedule conflict: %d overlapping interval(s)", len(e.Conflicts))
}

// AsError returns the typed conflict error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Scan compares a candidate interval against one user's booked intervals.
// Pure function; both propose-time and approve-time checks go through it so
// the two paths can never disagree on what counts as a collision.
func Scan(candidate interval.Interval, userID int64, booked []interval.Booked) []Conflict {
	var out []Conflict
	for _, b := range booked {
		if candidate.Overlaps(b.Span) {
			out = append(out, Conflict{
				UserID:     userID,
				ScheduleID: b.ScheduleID,
				Title:      b.Title,
				Start:      b.Span.Start,
				End:        b.Span.End,
			})
		}
	}
	return out
}

// UserDirectory answers whether a user id refers to a real user.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Detector runs the full conflict check for a set of participants.
type Detector struct {
	src   interval.Source
	users UserDirectory
}

func NewDetector(src interval.Source, users UserDirectory) *Detector {
	return &Detector{src: src, users: users}
}

// Check validates the candidate range and reports every collision with the
// participants' existing schedules. Results are ordered by participant id
// ascending, then by conflicting interval start ascending. Participant ids
// are deduplicated; excludeScheduleID removes the schedule being changed
// from consideration.
func (d *Detector) Check(ctx context.Context, candidate interval.Interval, participantIDs []int64, excludeScheduleID int64) ([]Conflict, error) {
	if !candidate.Valid() {
		return nil, ErrInvalidRange
	}

	ids := dedupeSorted(participantIDs)

	for _, id := range ids {
		ok, err := d.users.UserExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("look up participant %d: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("participant %d: %w", id, ErrUnknownParticipant)
		}
	}

	var conflicts []Conflict
	for _, id := range ids {
		booked, err := d.src.BookedIntervals(ctx, id, excludeScheduleID)
		if err != nil {
			return nil, fmt.Errorf("booked intervals for participant %d: %w", id, err)
		}
		// booked comes back ordered by start, so the per-user scan
		// preserves the documented ordering.
		conflicts = append(conflicts, Scan(candidate, id, booked)...)
	}
	return conflicts, nil
}

func dedupeSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

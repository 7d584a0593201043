// Package slots suggests conflict-free candidate ranges for a schedule's
// participant set, so clients can offer alternatives when a proposal is
// rejected.
package slots

import (
	"context"
	"sort"
	"time"

	"teamplan/internal/interval"
)

// Slot represents one candidate range within a day window.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Window describes the part of a day slots are generated for.
type Window struct {
	StartHour int
	EndHour   int
	SlotSize  time.Duration
}

// Generator generates free slots over the participants' merged calendars.
type Generator struct {
	src interval.Source
}

// NewGenerator creates a new slot generator.
func NewGenerator(src interval.Source) *Generator {
	return &Generator{src: src}
}

// FreeSlots walks the day window in slot-sized steps and marks each slot
// available when it overlaps no participant's booked interval.
// excludeScheduleID removes the schedule being rescheduled from the busy
// set.
func (g *Generator) FreeSlots(ctx context.Context, participantIDs []int64, day time.Time, w Window, excludeScheduleID int64) ([]Slot, error) {
	if w.SlotSize <= 0 {
		w.SlotSize = 30 * time.Minute
	}
	if w.StartHour <= 0 {
		w.StartHour = 8
	}
	if w.EndHour <= w.StartHour {
		w.EndHour = 20
	}

	busy, err := g.mergedBusy(ctx, participantIDs, excludeScheduleID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), w.StartHour, 0, 0, 0, day.Location())
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), w.EndHour, 0, 0, 0, day.Location())

	var slots []Slot
	for cursor := dayStart; !cursor.Add(w.SlotSize).After(dayEnd); cursor = cursor.Add(w.SlotSize) {
		candidate := interval.New(cursor, cursor.Add(w.SlotSize))

		taken := false
		for _, b := range busy {
			if candidate.Overlaps(b) {
				taken = true
				break
			}
		}

		slots = append(slots, Slot{
			Start:     candidate.Start,
			End:       candidate.End,
			Available: !taken,
		})
	}
	return slots, nil
}

func (g *Generator) mergedBusy(ctx context.Context, participantIDs []int64, excludeScheduleID int64) ([]interval.Interval, error) {
	seen := make(map[int64]struct{}, len(participantIDs))
	var busy []interval.Interval
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		booked, err := g.src.BookedIntervals(ctx, id, excludeScheduleID)
		if err != nil {
			return nil, err
		}
		for _, b := range booked {
			busy = append(busy, b.Span)
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

// AvailableOnly filters a slot list down to the free ones.
func AvailableOnly(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

// FindConsecutive finds groups of adjacent available slots, useful when a
// schedule needs more than one slot of room.
func FindConsecutive(slots []Slot) [][]Slot {
	available := AvailableOnly(slots)
	if len(available) == 0 {
		return nil
	}

	var groups [][]Slot
	currentGroup := []Slot{available[0]}

	for i := 1; i < len(available); i++ {
		if available[i].Start.Equal(currentGroup[len(currentGroup)-1].End) {
			currentGroup = append(currentGroup, available[i])
		} else {
			groups = append(groups, currentGroup)
			currentGroup = []Slot{available[i]}
		}
	}
	groups = append(groups, currentGroup)

	return groups
}

// FitsDuration reports whether an available run starting at startTime can
// hold the requested duration.
func FitsDuration(slots []Slot, startTime time.Time, d time.Duration) bool {
	startIdx := -1
	for i, s := range slots {
		if s.Start.Equal(startTime) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return false
	}

	var covered time.Duration
	for i := startIdx; i < len(slots); i++ {
		if !slots[i].Available {
			break
		}
		if i > startIdx && !slots[i].Start.Equal(slots[i-1].End) {
			break
		}
		covered += slots[i].End.Sub(slots[i].Start)
		if covered >= d {
			return true
		}
	}
	return covered >= d
}

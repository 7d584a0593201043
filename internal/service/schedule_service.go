// Package service holds the schedule lifecycle outside the negotiation
// flow: direct creation, edits and cancellation. Direct edits run through
// the same conflict check a change request does.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"teamplan/internal/conflict"
	"teamplan/internal/events"
	"teamplan/internal/interval"
	"teamplan/internal/metrics"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

// Repository is the persistence surface the schedule service needs.
type Repository interface {
	CreateSchedule(ctx context.Context, s *models.Schedule, participantIDs []int64) error
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	UpdateScheduleRange(ctx context.Context, id, version int64, newRange interval.Interval, content *string) error
	DeleteSchedule(ctx context.Context, id int64) error
	ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error)
	SetParticipantStatus(ctx context.Context, scheduleID, userID int64, status models.ParticipantStatus) error
}

// AccessControl decides edit authority for direct mutations.
type AccessControl interface {
	CanEdit(ctx context.Context, userID int64, sched *models.Schedule) (bool, error)
}

// ConflictChecker validates candidate ranges.
type ConflictChecker interface {
	Check(ctx context.Context, candidate interval.Interval, participantIDs []int64, excludeScheduleID int64) ([]conflict.Conflict, error)
}

// EventPublisher fans schedule events out.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ScheduleEvent is the payload for schedule lifecycle events.
type ScheduleEvent struct {
	ScheduleID int64 `json:"schedule_id"`
	ActorID    int64 `json:"actor_id"`
}

type ScheduleService struct {
	repo       Repository
	access     AccessControl
	checker    ConflictChecker
	bus        EventPublisher
	minAdvance time.Duration
	maxAdvance time.Duration
	logger     *zerolog.Logger
}

func NewScheduleService(repo Repository, access AccessControl, checker ConflictChecker, bus EventPublisher, minAdvance, maxAdvance time.Duration, logger *zerolog.Logger) *ScheduleService {
	return &ScheduleService{
		repo:       repo,
		access:     access,
		checker:    checker,
		bus:        bus,
		minAdvance: minAdvance,
		maxAdvance: maxAdvance,
		logger:     logger,
	}
}

// ValidateScheduleStart enforces the advance booking window.
func (s *ScheduleService) ValidateScheduleStart(start time.Time) error {
	now := time.Now()
	if start.Before(now.Add(s.minAdvance)) {
		return fmt.Errorf("schedule must start at least %s from now", s.minAdvance)
	}
	if s.maxAdvance > 0 && start.After(now.Add(s.maxAdvance)) {
		return fmt.Errorf("schedule starts too far in the future")
	}
	return nil
}

// CreateSchedule validates the range, checks conflicts for the creator and
// every invited participant, then persists the entry.
func (s *ScheduleService) CreateSchedule(ctx context.Context, sched *models.Schedule, participantIDs []int64) error {
	candidate := interval.New(sched.StartTime, sched.EndTime)
	if !candidate.Valid() {
		return conflict.ErrInvalidRange
	}
	if err := s.ValidateScheduleStart(sched.StartTime); err != nil {
		return err
	}

	ids := append([]int64{sched.CreatorID}, participantIDs...)
	conflicts, err := s.checker.Check(ctx, candidate, ids, 0)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		metrics.IncConflictDetected("create")
		return &conflict.Error{Conflicts: conflicts}
	}

	if err := s.repo.CreateSchedule(ctx, sched, participantIDs); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}

	metrics.IncScheduleWrite("create")
	s.publish(events.ScheduleCreated, ScheduleEvent{ScheduleID: sched.ID, ActorID: sched.CreatorID})
	s.logger.Info().
		Int64("schedule_id", sched.ID).
		Int64("creator_id", sched.CreatorID).
		Time("start", sched.StartTime).
		Msg("Schedule created")
	return nil
}

// UpdateRange moves a schedule directly. The same conflict check as the
// negotiation path runs first; the write is guarded by the schedule's
// version so a concurrent approval cannot be silently overwritten.
func (s *ScheduleService) UpdateRange(ctx context.Context, scheduleID, actorID int64, newRange interval.Interval, content *string) error {
	sched, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	ok, err := s.access.CanEdit(ctx, actorID, sched)
	if err != nil {
		return fmt.Errorf("check edit access: %w", err)
	}
	if !ok {
		return negotiation.ErrForbidden
	}

	ids, err := s.participantIDs(ctx, sched)
	if err != nil {
		return err
	}
	conflicts, err := s.checker.Check(ctx, newRange, ids, scheduleID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		metrics.IncConflictDetected("update")
		return &conflict.Error{Conflicts: conflicts}
	}

	if err := s.repo.UpdateScheduleRange(ctx, scheduleID, sched.Version, newRange, content); err != nil {
		return err
	}

	metrics.IncScheduleWrite("update")
	s.publish(events.ScheduleUpdated, ScheduleEvent{ScheduleID: scheduleID, ActorID: actorID})
	s.logger.Info().
		Int64("schedule_id", scheduleID).
		Int64("actor_id", actorID).
		Msg("Schedule range updated")
	return nil
}

// Cancel removes a schedule entirely.
func (s *ScheduleService) Cancel(ctx context.Context, scheduleID, actorID int64) error {
	sched, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	ok, err := s.access.CanEdit(ctx, actorID, sched)
	if err != nil {
		return fmt.Errorf("check edit access: %w", err)
	}
	if !ok {
		return negotiation.ErrForbidden
	}

	if err := s.repo.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}
	metrics.IncScheduleWrite("cancel")
	s.logger.Info().Int64("schedule_id", scheduleID).Int64("actor_id", actorID).Msg("Schedule cancelled")
	return nil
}

// RespondToInvite lets a participant confirm or decline their binding.
func (s *ScheduleService) RespondToInvite(ctx context.Context, scheduleID, userID int64, accept bool) error {
	status := models.ParticipantDeclined
	if accept {
		status = models.ParticipantConfirmed
	}
	return s.repo.SetParticipantStatus(ctx, scheduleID, userID, status)
}

func (s *ScheduleService) participantIDs(ctx context.Context, sched *models.Schedule) ([]int64, error) {
	parts, err := s.repo.ListParticipants(ctx, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	ids := []int64{sched.CreatorID}
	for _, p := range parts {
		if p.Status == models.ParticipantDeclined {
			continue
		}
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (s *ScheduleService) publish(eventType string, payload ScheduleEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

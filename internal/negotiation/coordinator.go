package negotiation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teamplan/internal/conflict"
	"teamplan/internal/events"
	"teamplan/internal/interval"
	"teamplan/internal/metrics"
	"teamplan/internal/models"
)

// Store is the transactional persistence the coordinator drives. Each
// method runs in a single transaction; ResolveChangeRequest re-reads the
// request, re-checks conflicts on approval and commits the schedule change
// atomically.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error)
	CreateChangeRequest(ctx context.Context, req *models.ChangeRequest, proposal *models.Message) error
	GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error)
	ResolveChangeRequest(ctx context.Context, requestID string, deciderID int64, to models.RequestState, resolution *models.Message) (*models.ChangeRequest, error)
	MarkAcknowledged(ctx context.Context, requestID string, userID int64) error
}

// AccessControl answers authority questions about a schedule.
type AccessControl interface {
	CanView(ctx context.Context, userID int64, sched *models.Schedule) (bool, error)
	CanEdit(ctx context.Context, userID int64, sched *models.Schedule) (bool, error)
}

// ConflictChecker validates a candidate range against participants'
// calendars.
type ConflictChecker interface {
	Check(ctx context.Context, candidate interval.Interval, participantIDs []int64, excludeScheduleID int64) ([]conflict.Conflict, error)
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// AuditRecorder persists a trail of request transitions.
type AuditRecorder interface {
	Record(ctx context.Context, requestID string, actorID int64, action, detail string) error
}

// RequestEvent is the payload published for request lifecycle events.
type RequestEvent struct {
	RequestID  string `json:"request_id"`
	ScheduleID int64  `json:"schedule_id"`
	ActorID    int64  `json:"actor_id"`
}

// Coordinator runs the change-request lifecycle: propose, resolve,
// acknowledge.
type Coordinator struct {
	store     Store
	access    AccessControl
	checker   ConflictChecker
	fsm       *FSM
	bus       EventPublisher
	audit     AuditRecorder
	retryable func(error) bool
	logger    *zerolog.Logger
}

// NewCoordinator wires the coordinator. retryable classifies transient
// store errors worth one retry; nil disables retrying. bus and audit may
// be nil.
func NewCoordinator(store Store, access AccessControl, checker ConflictChecker, bus EventPublisher, audit AuditRecorder, retryable func(error) bool, logger *zerolog.Logger) *Coordinator {
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Coordinator{
		store:     store,
		access:    access,
		checker:   checker,
		fsm:       NewFSM(),
		bus:       bus,
		audit:     audit,
		retryable: retryable,
		logger:    logger,
	}
}

// Propose opens a change request against a schedule. The candidate range
// is conflict-checked for every non-declined participant before anything
// is persisted; on conflict nothing is written and the typed conflict
// error carries the full collision list. At most one request may be
// pending per schedule.
func (c *Coordinator) Propose(ctx context.Context, scheduleID, proposerID int64, newRange interval.Interval, newContent *string) (*models.ChangeRequest, error) {
	sched, err := c.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	ok, err := c.access.CanView(ctx, proposerID, sched)
	if err != nil {
		return nil, fmt.Errorf("check view access: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	participantIDs, err := c.activeParticipants(ctx, sched)
	if err != nil {
		return nil, err
	}

	conflicts, err := c.checker.Check(ctx, newRange, participantIDs, scheduleID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		metrics.IncConflictDetected("propose")
		c.logger.Info().
			Int64("schedule_id", scheduleID).
			Int64("proposer_id", proposerID).
			Int("conflicts", len(conflicts)).
			Msg("Proposal rejected: conflicting intervals")
		return nil, &conflict.Error{Conflicts: conflicts}
	}

	req := &models.ChangeRequest{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		ProposerID: proposerID,
		NewStart:   newRange.Start,
		NewEnd:     newRange.End,
		NewContent: newContent,
		TargetDate: models.DateBucket(newRange.Start),
		State:      models.RequestPending,
	}
	proposal := c.proposalMessage(sched, req)
	req.ProposalMessageID = proposal.ID

	if err := c.store.CreateChangeRequest(ctx, req, proposal); err != nil {
		return nil, err
	}

	metrics.IncRequestCreated()
	c.record(ctx, req.ID, proposerID, "proposed", fmt.Sprintf("schedule %d -> [%s, %s)", scheduleID, req.NewStart.Format("2006-01-02 15:04"), req.NewEnd.Format("15:04")))
	c.publish(events.RequestCreated, RequestEvent{RequestID: req.ID, ScheduleID: scheduleID, ActorID: proposerID})

	c.logger.Info().
		Str("request_id", req.ID).
		Int64("schedule_id", scheduleID).
		Int64("proposer_id", proposerID).
		Msg("Change request created")
	return req, nil
}

// Resolve applies a decision to a pending request. Approval re-checks
// conflicts and commits the schedule change in the same store transaction;
// an approve-time conflict aborts only the approval and the request stays
// pending. Transient store failures are retried once with a fresh re-read.
func (c *Coordinator) Resolve(ctx context.Context, requestID string, deciderID int64, decision Decision) (*models.ChangeRequest, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	updated, err := c.resolveOnce(ctx, requestID, deciderID, decision)
	if err != nil && c.retryable(err) {
		c.logger.Warn().Err(err).Str("request_id", requestID).Msg("Transient store error, retrying resolution")
		updated, err = c.resolveOnce(ctx, requestID, deciderID, decision)
	}
	if err != nil {
		if _, isConflict := conflict.AsError(err); isConflict {
			metrics.IncConflictDetected("approve")
			c.logger.Info().Str("request_id", requestID).Msg("Approval aborted: conflicting intervals, request stays pending")
		}
		return nil, err
	}

	metrics.IncRequestDecision(string(decision))
	c.record(ctx, requestID, deciderID, string(decision), "")
	eventType := events.RequestRejected
	if decision == DecisionApprove {
		eventType = events.RequestApproved
	}
	c.publish(eventType, RequestEvent{RequestID: updated.ID, ScheduleID: updated.ScheduleID, ActorID: deciderID})

	c.logger.Info().
		Str("request_id", requestID).
		Int64("decider_id", deciderID).
		Str("decision", string(decision)).
		Msg("Change request resolved")
	return updated, nil
}

func (c *Coordinator) resolveOnce(ctx context.Context, requestID string, deciderID int64, decision Decision) (*models.ChangeRequest, error) {
	req, err := c.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !c.fsm.CanTransition(req.State, decision.State()) {
		return nil, ErrRequestAlreadyResolved
	}

	sched, err := c.store.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	ok, err := c.access.CanEdit(ctx, deciderID, sched)
	if err != nil {
		return nil, fmt.Errorf("check edit access: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	resolution := c.resolutionMessage(sched, req, deciderID, decision)
	return c.store.ResolveChangeRequest(ctx, requestID, deciderID, decision.State(), resolution)
}

// Acknowledge marks a resolved request as seen by one recipient. The
// operation is idempotent: repeat calls and calls by non-recipients are
// accepted and change nothing. Unknown request ids fail with ErrNotFound.
func (c *Coordinator) Acknowledge(ctx context.Context, requestID string, userID int64) error {
	req, err := c.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if err := c.store.MarkAcknowledged(ctx, requestID, userID); err != nil {
		return err
	}

	c.publish(events.RequestAcknowledged, RequestEvent{RequestID: requestID, ScheduleID: req.ScheduleID, ActorID: userID})
	return nil
}

// activeParticipants collects the conflict-check population: the creator
// plus every participant who has not declined.
func (c *Coordinator) activeParticipants(ctx context.Context, sched *models.Schedule) ([]int64, error) {
	parts, err := c.store.ListParticipants(ctx, sched.ID)
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

func (c *Coordinator) proposalMessage(sched *models.Schedule, req *models.ChangeRequest) *models.Message {
	var teamID int64
	if sched.IsTeam() {
		teamID = *sched.TeamID
	}
	content := fmt.Sprintf("Proposed moving %q to %s, %s - %s",
		sched.Title,
		req.NewStart.Format("2006-01-02"),
		req.NewStart.Format("15:04"),
		req.NewEnd.Format("15:04"),
	)
	if req.NewContent != nil {
		content += fmt.Sprintf("\nNote: %s", *req.NewContent)
	}
	return &models.Message{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		AuthorID:  req.ProposerID,
		Date:      req.TargetDate,
		Kind:      models.MessageProposal,
		Content:   content,
		RequestID: req.ID,
	}
}

func (c *Coordinator) resolutionMessage(sched *models.Schedule, req *models.ChangeRequest, deciderID int64, decision Decision) *models.Message {
	var teamID int64
	if sched.IsTeam() {
		teamID = *sched.TeamID
	}
	verdict := "rejected"
	if decision == DecisionApprove {
		verdict = "approved"
	}
	return &models.Message{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		AuthorID:  deciderID,
		Date:      req.TargetDate,
		Kind:      models.MessageResolution,
		Content:   fmt.Sprintf("Change to %q %s", sched.Title, verdict),
		RequestID: req.ID,
	}
}

func (c *Coordinator) record(ctx context.Context, requestID string, actorID int64, action, detail string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, requestID, actorID, action, detail); err != nil {
		c.logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to record audit entry")
	}
}

func (c *Coordinator) publish(eventType string, payload RequestEvent) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

package negotiation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamplan/internal/conflict"
	"teamplan/internal/interval"
	"teamplan/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *mockStore) ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error) {
	args := m.Called(ctx, scheduleID)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *mockStore) CreateChangeRequest(ctx context.Context, req *models.ChangeRequest, proposal *models.Message) error {
	return m.Called(ctx, req, proposal).Error(0)
}

func (m *mockStore) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChangeRequest), args.Error(1)
}

func (m *mockStore) ResolveChangeRequest(ctx context.Context, requestID string, deciderID int64, to models.RequestState, resolution *models.Message) (*models.ChangeRequest, error) {
	args := m.Called(ctx, requestID, deciderID, to, resolution)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChangeRequest), args.Error(1)
}

func (m *mockStore) MarkAcknowledged(ctx context.Context, requestID string, userID int64) error {
	return m.Called(ctx, requestID, userID).Error(0)
}

type mockAccess struct {
	mock.Mock
}

func (m *mockAccess) CanView(ctx context.Context, userID int64, sched *models.Schedule) (bool, error) {
	args := m.Called(ctx, userID, sched)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccess) CanEdit(ctx context.Context, userID int64, sched *models.Schedule) (bool, error) {
	args := m.Called(ctx, userID, sched)
	return args.Bool(0), args.Error(1)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Check(ctx context.Context, candidate interval.Interval, participantIDs []int64, excludeScheduleID int64) ([]conflict.Conflict, error) {
	args := m.Called(ctx, candidate, participantIDs, excludeScheduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]conflict.Conflict), args.Error(1)
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

func testSchedule() *models.Schedule {
	teamID := int64(7)
	return &models.Schedule{
		ID:        42,
		Title:     "sprint planning",
		StartTime: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC),
		Type:      models.ScheduleTeam,
		TeamID:    &teamID,
		CreatorID: 1,
		Version:   1,
	}
}

func newTestCoordinator(store *mockStore, access *mockAccess, checker *mockChecker, bus *mockBus, retryable func(error) bool) *Coordinator {
	logger := zerolog.New(io.Discard)
	return NewCoordinator(store, access, checker, bus, nil, retryable, &logger)
}

func TestCoordinator_Propose(t *testing.T) {
	ctx := context.Background()
	newRange := interval.New(
		time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC),
	)

	t.Run("success", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()

		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanView", ctx, int64(2), sched).Return(true, nil).Once()
		store.On("ListParticipants", ctx, int64(42)).Return([]models.Participant{
			{ScheduleID: 42, UserID: 2, Status: models.ParticipantConfirmed},
			{ScheduleID: 42, UserID: 3, Status: models.ParticipantDeclined},
		}, nil).Once()
		checker.On("Check", ctx, newRange, []int64{1, 2}, int64(42)).Return([]conflict.Conflict(nil), nil).Once()
		store.On("CreateChangeRequest", ctx, mock.Anything, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "request.created", mock.Anything).Return(nil).Once()

		req, err := c.Propose(ctx, 42, 2, newRange, nil)
		require.NoError(t, err)
		assert.Equal(t, models.RequestPending, req.State)
		assert.Equal(t, "2025-06-03", req.TargetDate)
		assert.NotEmpty(t, req.ID)
		assert.NotEmpty(t, req.ProposalMessageID)
		store.AssertExpectations(t)
		checker.AssertExpectations(t)
	})

	t.Run("conflicts persist nothing", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()

		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanView", ctx, int64(2), sched).Return(true, nil).Once()
		store.On("ListParticipants", ctx, int64(42)).Return([]models.Participant{}, nil).Once()
		checker.On("Check", ctx, newRange, []int64{1}, int64(42)).Return([]conflict.Conflict{
			{UserID: 1, ScheduleID: 9, Title: "1:1"},
		}, nil).Once()

		_, err := c.Propose(ctx, 42, 2, newRange, nil)
		ce, ok := conflict.AsError(err)
		require.True(t, ok, "expected a conflict error, got %v", err)
		assert.Len(t, ce.Conflicts, 1)
		store.AssertNotCalled(t, "CreateChangeRequest", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("forbidden", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()

		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanView", ctx, int64(99), sched).Return(false, nil).Once()

		_, err := c.Propose(ctx, 42, 99, newRange, nil)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("schedule not found", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)

		store.On("GetSchedule", ctx, int64(404)).Return(nil, ErrNotFound).Once()

		_, err := c.Propose(ctx, 404, 2, newRange, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate pending surfaces from store", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()

		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanView", ctx, int64(2), sched).Return(true, nil).Once()
		store.On("ListParticipants", ctx, int64(42)).Return([]models.Participant{}, nil).Once()
		checker.On("Check", ctx, newRange, []int64{1}, int64(42)).Return([]conflict.Conflict(nil), nil).Once()
		store.On("CreateChangeRequest", ctx, mock.Anything, mock.Anything).Return(ErrRequestAlreadyPending).Once()

		_, err := c.Propose(ctx, 42, 2, newRange, nil)
		assert.ErrorIs(t, err, ErrRequestAlreadyPending)
	})
}

func TestCoordinator_Resolve(t *testing.T) {
	ctx := context.Background()

	pendingRequest := func() *models.ChangeRequest {
		return &models.ChangeRequest{
			ID:         "req-1",
			ScheduleID: 42,
			ProposerID: 2,
			NewStart:   time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC),
			NewEnd:     time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC),
			TargetDate: "2025-06-03",
			State:      models.RequestPending,
			Version:    1,
		}
	}

	t.Run("approve", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()
		req := pendingRequest()
		approved := *req
		approved.State = models.RequestApproved

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Once()
		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Once()
		store.On("ResolveChangeRequest", ctx, "req-1", int64(1), models.RequestApproved, mock.Anything).Return(&approved, nil).Once()
		bus.On("PublishJSON", "request.approved", mock.Anything).Return(nil).Once()

		got, err := c.Resolve(ctx, "req-1", 1, DecisionApprove)
		require.NoError(t, err)
		assert.Equal(t, models.RequestApproved, got.State)
		store.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("already resolved", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		req := pendingRequest()
		req.State = models.RequestRejected

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Once()

		_, err := c.Resolve(ctx, "req-1", 1, DecisionApprove)
		assert.ErrorIs(t, err, ErrRequestAlreadyResolved)
		store.AssertNotCalled(t, "ResolveChangeRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("forbidden decider", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()
		req := pendingRequest()

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Once()
		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(5), sched).Return(false, nil).Once()

		_, err := c.Resolve(ctx, "req-1", 5, DecisionApprove)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("approve-time conflict leaves request pending", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		sched := testSchedule()
		req := pendingRequest()
		conflictErr := &conflict.Error{Conflicts: []conflict.Conflict{{UserID: 2, ScheduleID: 9}}}

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Once()
		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Once()
		store.On("ResolveChangeRequest", ctx, "req-1", int64(1), models.RequestApproved, mock.Anything).Return(nil, conflictErr).Once()

		_, err := c.Resolve(ctx, "req-1", 1, DecisionApprove)
		_, ok := conflict.AsError(err)
		assert.True(t, ok)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("transient failure retried once with fresh read", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		transient := errors.New("database is locked")
		c := newTestCoordinator(store, access, checker, bus, func(err error) bool {
			return errors.Is(err, transient)
		})
		sched := testSchedule()
		req := pendingRequest()
		rejected := *req
		rejected.State = models.RequestRejected

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Twice()
		store.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Twice()
		access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Twice()
		store.On("ResolveChangeRequest", ctx, "req-1", int64(1), models.RequestRejected, mock.Anything).Return(nil, transient).Once()
		store.On("ResolveChangeRequest", ctx, "req-1", int64(1), models.RequestRejected, mock.Anything).Return(&rejected, nil).Once()
		bus.On("PublishJSON", "request.rejected", mock.Anything).Return(nil).Once()

		got, err := c.Resolve(ctx, "req-1", 1, DecisionReject)
		require.NoError(t, err)
		assert.Equal(t, models.RequestRejected, got.State)
		store.AssertExpectations(t)
	})

	t.Run("unknown decision", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)

		_, err := c.Resolve(ctx, "req-1", 1, Decision("maybe"))
		assert.Error(t, err)
	})
}

func TestCoordinator_Acknowledge(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent acknowledge", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)
		req := &models.ChangeRequest{ID: "req-1", ScheduleID: 42, State: models.RequestApproved}

		store.On("GetChangeRequest", ctx, "req-1").Return(req, nil).Twice()
		store.On("MarkAcknowledged", ctx, "req-1", int64(2)).Return(nil).Twice()
		bus.On("PublishJSON", "request.acknowledged", mock.Anything).Return(nil).Twice()

		require.NoError(t, c.Acknowledge(ctx, "req-1", 2))
		require.NoError(t, c.Acknowledge(ctx, "req-1", 2))
		store.AssertExpectations(t)
	})

	t.Run("unknown request", func(t *testing.T) {
		store, access, checker, bus := new(mockStore), new(mockAccess), new(mockChecker), new(mockBus)
		c := newTestCoordinator(store, access, checker, bus, nil)

		store.On("GetChangeRequest", ctx, "nope").Return(nil, ErrNotFound).Once()

		err := c.Acknowledge(ctx, "nope", 2)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

package service

import (
	"context"
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
	"teamplan/internal/negotiation"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateSchedule(ctx context.Context, s *models.Schedule, participantIDs []int64) error {
	return m.Called(ctx, s, participantIDs).Error(0)
}

func (m *mockRepo) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Schedule), args.Error(1)
}

func (m *mockRepo) UpdateScheduleRange(ctx context.Context, id, version int64, newRange interval.Interval, content *string) error {
	return m.Called(ctx, id, version, newRange, content).Error(0)
}

func (m *mockRepo) DeleteSchedule(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error) {
	args := m.Called(ctx, scheduleID)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *mockRepo) SetParticipantStatus(ctx context.Context, scheduleID, userID int64, status models.ParticipantStatus) error {
	return m.Called(ctx, scheduleID, userID, status).Error(0)
}

type mockAccess struct {
	mock.Mock
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

func newTestService(repo *mockRepo, access *mockAccess, checker *mockChecker, bus *mockBus) *ScheduleService {
	logger := zerolog.New(io.Discard)
	return NewScheduleService(repo, access, checker, bus, 0, 90*24*time.Hour, &logger)
}

func TestScheduleService_ValidateScheduleStart(t *testing.T) {
	svc := newTestService(new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus))
	now := time.Now()

	assert.Error(t, svc.ValidateScheduleStart(now.AddDate(0, 0, -1)))
	assert.Error(t, svc.ValidateScheduleStart(now.AddDate(0, 0, 120)))
	assert.NoError(t, svc.ValidateScheduleStart(now.AddDate(0, 0, 5)))
}

func TestScheduleService_CreateSchedule(t *testing.T) {
	ctx := context.Background()
	start := time.Now().AddDate(0, 0, 5).Truncate(time.Hour)
	end := start.Add(time.Hour)

	t.Run("success", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)
		sched := &models.Schedule{Title: "kickoff", StartTime: start, EndTime: end, CreatorID: 1}

		checker.On("Check", ctx, interval.New(start, end), []int64{1, 2}, int64(0)).Return([]conflict.Conflict(nil), nil).Once()
		repo.On("CreateSchedule", ctx, sched, []int64{2}).Return(nil).Once()
		bus.On("PublishJSON", "schedule.created", mock.Anything).Return(nil).Once()

		require.NoError(t, svc.CreateSchedule(ctx, sched, []int64{2}))
		repo.AssertExpectations(t)
	})

	t.Run("invalid range", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)
		sched := &models.Schedule{Title: "kickoff", StartTime: end, EndTime: start, CreatorID: 1}

		err := svc.CreateSchedule(ctx, sched, nil)
		assert.ErrorIs(t, err, conflict.ErrInvalidRange)
		repo.AssertNotCalled(t, "CreateSchedule", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("conflict blocks creation", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)
		sched := &models.Schedule{Title: "kickoff", StartTime: start, EndTime: end, CreatorID: 1}

		checker.On("Check", ctx, mock.Anything, mock.Anything, int64(0)).Return([]conflict.Conflict{
			{UserID: 1, ScheduleID: 7},
		}, nil).Once()

		err := svc.CreateSchedule(ctx, sched, nil)
		_, ok := conflict.AsError(err)
		assert.True(t, ok)
		repo.AssertNotCalled(t, "CreateSchedule", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestScheduleService_UpdateRange(t *testing.T) {
	ctx := context.Background()
	sched := &models.Schedule{ID: 42, CreatorID: 1, Version: 3}
	newRange := interval.New(
		time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC),
	)

	t.Run("success with version passthrough", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)

		repo.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Once()
		repo.On("ListParticipants", ctx, int64(42)).Return([]models.Participant{
			{ScheduleID: 42, UserID: 2, Status: models.ParticipantConfirmed},
		}, nil).Once()
		checker.On("Check", ctx, newRange, []int64{1, 2}, int64(42)).Return([]conflict.Conflict(nil), nil).Once()
		repo.On("UpdateScheduleRange", ctx, int64(42), int64(3), newRange, (*string)(nil)).Return(nil).Once()
		bus.On("PublishJSON", "schedule.updated", mock.Anything).Return(nil).Once()

		require.NoError(t, svc.UpdateRange(ctx, 42, 1, newRange, nil))
		repo.AssertExpectations(t)
	})

	t.Run("forbidden", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)

		repo.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(5), sched).Return(false, nil).Once()

		err := svc.UpdateRange(ctx, 42, 5, newRange, nil)
		assert.ErrorIs(t, err, negotiation.ErrForbidden)
	})

	t.Run("conflict blocks update", func(t *testing.T) {
		repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
		svc := newTestService(repo, access, checker, bus)

		repo.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
		access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Once()
		repo.On("ListParticipants", ctx, int64(42)).Return([]models.Participant{}, nil).Once()
		checker.On("Check", ctx, newRange, []int64{1}, int64(42)).Return([]conflict.Conflict{
			{UserID: 1, ScheduleID: 9},
		}, nil).Once()

		err := svc.UpdateRange(ctx, 42, 1, newRange, nil)
		_, ok := conflict.AsError(err)
		assert.True(t, ok)
		repo.AssertNotCalled(t, "UpdateScheduleRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestScheduleService_Cancel(t *testing.T) {
	ctx := context.Background()
	sched := &models.Schedule{ID: 42, CreatorID: 1}

	repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
	svc := newTestService(repo, access, checker, bus)

	repo.On("GetSchedule", ctx, int64(42)).Return(sched, nil).Once()
	access.On("CanEdit", ctx, int64(1), sched).Return(true, nil).Once()
	repo.On("DeleteSchedule", ctx, int64(42)).Return(nil).Once()

	require.NoError(t, svc.Cancel(ctx, 42, 1))
	repo.AssertExpectations(t)
}

func TestScheduleService_RespondToInvite(t *testing.T) {
	ctx := context.Background()
	repo, access, checker, bus := new(mockRepo), new(mockAccess), new(mockChecker), new(mockBus)
	svc := newTestService(repo, access, checker, bus)

	repo.On("SetParticipantStatus", ctx, int64(42), int64(2), models.ParticipantDeclined).Return(nil).Once()
	require.NoError(t, svc.RespondToInvite(ctx, 42, 2, false))
	repo.AssertExpectations(t)
}

package access

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

type fakeMembers struct {
	roles   map[[2]int64]models.Role // [teamID, userID]
	blocked map[int64]bool
}

func (f *fakeMembers) GetMemberRole(_ context.Context, teamID, userID int64) (models.Role, bool, error) {
	role, ok := f.roles[[2]int64{teamID, userID}]
	return role, ok, nil
}

func (f *fakeMembers) IsBlocked(_ context.Context, userID int64) (bool, error) {
	return f.blocked[userID], nil
}

func newTestService(f *fakeMembers) *Service {
	return NewService(f, zerolog.New(io.Discard))
}

func TestService_CanView(t *testing.T) {
	teamID := int64(7)
	members := &fakeMembers{
		roles: map[[2]int64]models.Role{
			{7, 1}: models.RoleLeader,
			{7, 2}: models.RoleMember,
		},
		blocked: map[int64]bool{9: true},
	}
	svc := newTestService(members)
	ctx := context.Background()

	teamSched := &models.Schedule{ID: 1, Type: models.ScheduleTeam, TeamID: &teamID, CreatorID: 1}
	personal := &models.Schedule{ID: 2, Type: models.SchedulePersonal, CreatorID: 3}

	tests := []struct {
		name   string
		userID int64
		sched  *models.Schedule
		want   bool
	}{
		{"member sees team schedule", 2, teamSched, true},
		{"outsider cannot see team schedule", 5, teamSched, false},
		{"creator sees personal schedule", 3, personal, true},
		{"stranger cannot see personal schedule", 2, personal, false},
		{"blocked member sees nothing", 9, teamSched, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.CanView(ctx, tt.userID, tt.sched)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_CanEdit(t *testing.T) {
	teamID := int64(7)
	members := &fakeMembers{
		roles: map[[2]int64]models.Role{
			{7, 1}: models.RoleLeader,
			{7, 2}: models.RoleMember,
		},
		blocked: map[int64]bool{1: false},
	}
	svc := newTestService(members)
	ctx := context.Background()

	teamSched := &models.Schedule{ID: 1, Type: models.ScheduleTeam, TeamID: &teamID, CreatorID: 2}
	personal := &models.Schedule{ID: 2, Type: models.SchedulePersonal, CreatorID: 3}

	tests := []struct {
		name   string
		userID int64
		sched  *models.Schedule
		want   bool
	}{
		{"leader edits team schedule", 1, teamSched, true},
		{"creator edits own team schedule", 2, teamSched, true},
		{"plain member cannot edit others' entry", 4, teamSched, false},
		{"creator edits personal schedule", 3, personal, true},
		{"leader has no reach into personal schedules", 1, personal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.CanEdit(ctx, tt.userID, tt.sched)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_ResolveMembership(t *testing.T) {
	members := &fakeMembers{
		roles: map[[2]int64]models.Role{{7, 1}: models.RoleLeader},
	}
	svc := newTestService(members)

	role, err := svc.ResolveMembership(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLeader, role)

	_, err = svc.ResolveMembership(context.Background(), 99, 7)
	assert.ErrorIs(t, err, negotiation.ErrForbidden)
}

func TestService_Middleware(t *testing.T) {
	members := &fakeMembers{blocked: map[int64]bool{9: true}}
	svc := newTestService(members)

	assert.NoError(t, svc.Middleware(context.Background(), 1))
	assert.ErrorIs(t, svc.Middleware(context.Background(), 9), negotiation.ErrForbidden)
}

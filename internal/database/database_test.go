package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamplan/internal/interval"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateUser(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	u := &models.User{Name: name}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u.ID
}

func mustCreateTeam(t *testing.T, db *DB, name string, leaderID int64, memberIDs ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	team := &models.Team{Name: name}
	require.NoError(t, db.CreateTeam(ctx, team))
	require.NoError(t, db.AddTeamMember(ctx, team.ID, leaderID, models.RoleLeader))
	for _, id := range memberIDs {
		require.NoError(t, db.AddTeamMember(ctx, team.ID, id, models.RoleMember))
	}
	return team.ID
}

func mustCreateSchedule(t *testing.T, db *DB, creatorID int64, teamID *int64, title string, start, end time.Time, participants ...int64) *models.Schedule {
	t.Helper()
	typ := models.SchedulePersonal
	if teamID != nil {
		typ = models.ScheduleTeam
	}
	s := &models.Schedule{
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Type:      typ,
		TeamID:    teamID,
		CreatorID: creatorID,
	}
	require.NoError(t, db.CreateSchedule(context.Background(), s, participants))
	return s
}

func TestUsersAndTeams(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")
	teamID := mustCreateTeam(t, db, "core", alice, bob)

	t.Run("UserExists", func(t *testing.T) {
		ok, err := db.UserExists(ctx, alice)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.UserExists(ctx, 9999)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetMemberRole", func(t *testing.T) {
		role, found, err := db.GetMemberRole(ctx, teamID, alice)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, models.RoleLeader, role)

		_, found, err = db.GetMemberRole(ctx, teamID, 9999)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Blocklist", func(t *testing.T) {
		require.NoError(t, db.BlockUser(ctx, bob, alice, "spam"))
		blocked, err := db.IsBlocked(ctx, bob)
		require.NoError(t, err)
		assert.True(t, blocked)

		require.NoError(t, db.UnblockUser(ctx, bob))
		blocked, err = db.IsBlocked(ctx, bob)
		require.NoError(t, err)
		assert.False(t, blocked)
	})
}

func TestBookedIntervals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	late := mustCreateSchedule(t, db, alice, nil, "late", day.Add(14*time.Hour), day.Add(15*time.Hour))
	early := mustCreateSchedule(t, db, alice, nil, "early", day.Add(9*time.Hour), day.Add(10*time.Hour))
	declined := mustCreateSchedule(t, db, bob, nil, "declined", day.Add(11*time.Hour), day.Add(12*time.Hour), alice)
	require.NoError(t, db.SetParticipantStatus(ctx, declined.ID, alice, models.ParticipantDeclined))

	t.Run("ordered by start, declined excluded", func(t *testing.T) {
		booked, err := db.BookedIntervals(ctx, alice, 0)
		require.NoError(t, err)
		require.Len(t, booked, 2)
		assert.Equal(t, early.ID, booked[0].ScheduleID)
		assert.Equal(t, late.ID, booked[1].ScheduleID)
	})

	t.Run("exclusion drops own schedule", func(t *testing.T) {
		booked, err := db.BookedIntervals(ctx, alice, early.ID)
		require.NoError(t, err)
		require.Len(t, booked, 1)
		assert.Equal(t, late.ID, booked[0].ScheduleID)
	})
}

func TestUpdateScheduleRange_VersionGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	sched := mustCreateSchedule(t, db, alice, nil, "standup", day.Add(9*time.Hour), day.Add(10*time.Hour))

	newRange := interval.New(day.Add(11*time.Hour), day.Add(12*time.Hour))
	require.NoError(t, db.UpdateScheduleRange(ctx, sched.ID, 1, newRange, nil))

	// Stale version loses.
	err := db.UpdateScheduleRange(ctx, sched.ID, 1, newRange, nil)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.StartTime.Equal(newRange.Start))
}

func TestGetSchedule_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetSchedule(context.Background(), 12345)
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	teamID := mustCreateTeam(t, db, "core", alice)

	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			ID:       "msg-" + string(rune('a'+i)),
			TeamID:   teamID,
			AuthorID: alice,
			Date:     "2025-06-02",
			Kind:     models.MessageText,
			Content:  content,
		}
		require.NoError(t, db.AppendMessage(ctx, msg))
	}

	got, err := db.ListMessages(ctx, teamID, "2025-06-02", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)

	got, err = db.ListMessages(ctx, teamID, "2025-06-02", 10, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "third", got[0].Content)

	got, err = db.ListMessages(ctx, teamID, "2025-06-03", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditTrail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, "req-1", 1, "proposed", "detail"))
	require.NoError(t, db.Record(ctx, "req-1", 2, "approved", ""))

	deleted, err := db.DeleteOldAuditRecords(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted, "fresh entries must survive retention cleanup")

	data, columns, err := db.GetTableData(ctx, "audit_log")
	require.NoError(t, err)
	assert.Contains(t, columns, "action")
	assert.Len(t, data, 2)

	_, _, err = db.GetTableData(ctx, "users")
	assert.Error(t, err, "only whitelisted tables are exported")
}

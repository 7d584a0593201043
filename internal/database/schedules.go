package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"teamplan/internal/interval"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

const scheduleColumns = `id, title, content, start_time, end_time, type, team_id, creator_id, version, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ID, &s.Title, &s.Content, &s.StartTime, &s.EndTime,
		&s.Type, &s.TeamID, &s.CreatorID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSchedule inserts the schedule and its participant bindings in one
// transaction. The creator is always bound as a confirmed participant.
func (db *DB) CreateSchedule(ctx context.Context, s *models.Schedule, participantIDs []int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (title, content, start_time, end_time, type, team_id, creator_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Title, s.Content, s.StartTime, s.EndTime, s.Type, s.TeamID, s.CreatorID)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedule_participants (schedule_id, user_id, status) VALUES (?, ?, ?)`,
		s.ID, s.CreatorID, models.ParticipantConfirmed); err != nil {
		return fmt.Errorf("bind creator: %w", err)
	}
	for _, userID := range participantIDs {
		if userID == s.CreatorID {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schedule_participants (schedule_id, user_id, status) VALUES (?, ?, ?)`,
			s.ID, userID, models.ParticipantPending); err != nil {
			return fmt.Errorf("bind participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.Version = 1
	return nil
}

func (db *DB) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return s, nil
}

// UpdateScheduleRange moves a schedule guarded by an optimistic version
// check. Zero rows affected means a concurrent writer won.
func (db *DB) UpdateScheduleRange(ctx context.Context, id, version int64, newRange interval.Interval, content *string) error {
	var (
		res sql.Result
		err error
	)
	if content != nil {
		res, err = db.ExecContext(ctx,
			`UPDATE schedules SET start_time = ?, end_time = ?, content = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND version = ?`,
			newRange.Start, newRange.End, *content, id, version)
	} else {
		res, err = db.ExecContext(ctx,
			`UPDATE schedules SET start_time = ?, end_time = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND version = ?`,
			newRange.Start, newRange.End, id, version)
	}
	if err != nil {
		return fmt.Errorf("update schedule range: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return negotiation.ErrNotFound
	}
	return nil
}

func (db *DB) ListParticipants(ctx context.Context, scheduleID int64) ([]models.Participant, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT schedule_id, user_id, status FROM schedule_participants
		 WHERE schedule_id = ? ORDER BY user_id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ScheduleID, &p.UserID, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) SetParticipantStatus(ctx context.Context, scheduleID, userID int64, status models.ParticipantStatus) error {
	res, err := db.ExecContext(ctx,
		`UPDATE schedule_participants SET status = ? WHERE schedule_id = ? AND user_id = ?`,
		status, scheduleID, userID)
	if err != nil {
		return fmt.Errorf("set participant status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return negotiation.ErrNotFound
	}
	return nil
}

// bookedIntervalsQuery derives a user's occupied intervals from schedules
// joined with non-declined participant bindings, ordered by start time.
const bookedIntervalsQuery = `
	SELECT s.id, s.title, s.start_time, s.end_time
	FROM schedules s
	JOIN schedule_participants sp ON sp.schedule_id = s.id
	WHERE sp.user_id = ? AND sp.status != 'declined' AND s.id != ?
	ORDER BY s.start_time, s.id`

// BookedIntervals implements interval.Source. The projection is re-derived
// on every call; nothing is cached.
func (db *DB) BookedIntervals(ctx context.Context, userID int64, excludeScheduleID int64) ([]interval.Booked, error) {
	rows, err := db.QueryContext(ctx, bookedIntervalsQuery, userID, excludeScheduleID)
	if err != nil {
		return nil, fmt.Errorf("booked intervals for user %d: %w", userID, err)
	}
	defer rows.Close()
	return collectBooked(rows)
}

func bookedIntervalsTx(ctx context.Context, tx *sql.Tx, userID, excludeScheduleID int64) ([]interval.Booked, error) {
	rows, err := tx.QueryContext(ctx, bookedIntervalsQuery, userID, excludeScheduleID)
	if err != nil {
		return nil, fmt.Errorf("booked intervals for user %d: %w", userID, err)
	}
	defer rows.Close()
	return collectBooked(rows)
}

func collectBooked(rows *sql.Rows) ([]interval.Booked, error) {
	var out []interval.Booked
	for rows.Next() {
		var (
			b          interval.Booked
			start, end time.Time
		)
		if err := rows.Scan(&b.ScheduleID, &b.Title, &start, &end); err != nil {
			return nil, err
		}
		b.Span = interval.New(start, end)
		out = append(out, b)
	}
	return out, rows.Err()
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"teamplan/internal/conflict"
	"teamplan/internal/interval"
	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

const requestColumns = `id, schedule_id, proposer_id, new_start, new_end, new_content, target_date,
	status, COALESCE(proposal_message_id, ''), COALESCE(resolution_message_id, ''),
	resolved_by, delivered, version, created_at, updated_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.ChangeRequest, error) {
	var r models.ChangeRequest
	err := row.Scan(&r.ID, &r.ScheduleID, &r.ProposerID, &r.NewStart, &r.NewEnd, &r.NewContent,
		&r.TargetDate, &r.State, &r.ProposalMessageID, &r.ResolutionMessageID,
		&r.ResolvedBy, &r.Delivered, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateChangeRequest persists a proposed change and its chat message in
// one transaction. The partial unique index on pending requests turns a
// concurrent second proposal into ErrRequestAlreadyPending.
func (db *DB) CreateChangeRequest(ctx context.Context, req *models.ChangeRequest, proposal *models.Message) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO change_requests
		 (id, schedule_id, proposer_id, new_start, new_end, new_content, target_date, status, proposal_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ScheduleID, req.ProposerID, req.NewStart, req.NewEnd, req.NewContent,
		req.TargetDate, req.State, nullString(req.ProposalMessageID))
	if err != nil {
		if isUniqueViolation(err) {
			return negotiation.ErrRequestAlreadyPending
		}
		return fmt.Errorf("insert change request: %w", err)
	}

	if err := insertMessageTx(ctx, tx, proposal); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	req.Version = 1
	return nil
}

func (db *DB) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get change request %s: %w", id, err)
	}
	return r, nil
}

// ResolveChangeRequest applies a terminal decision inside one transaction:
// the request is re-read, an approval re-checks conflicts against
// transaction-scoped booked intervals and commits the schedule change, the
// resolution message is appended and acknowledgement rows are created for
// every non-declined participant. An approve-time conflict rolls the whole
// transaction back and leaves the request pending.
func (db *DB) ResolveChangeRequest(ctx context.Context, requestID string, deciderID int64, to models.RequestState, resolution *models.Message) (*models.ChangeRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read change request: %w", err)
	}
	if req.State != models.RequestPending {
		return nil, negotiation.ErrRequestAlreadyResolved
	}

	var sched models.Schedule
	err = tx.QueryRowContext(ctx,
		`SELECT id, creator_id, version FROM schedules WHERE id = ?`, req.ScheduleID).
		Scan(&sched.ID, &sched.CreatorID, &sched.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}

	if to == models.RequestApproved {
		candidate := interval.New(req.NewStart, req.NewEnd)
		conflicts, err := rescanConflictsTx(ctx, tx, req.ScheduleID, sched.CreatorID, candidate)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &conflict.Error{Conflicts: conflicts}
		}

		var res sql.Result
		if req.NewContent != nil {
			res, err = tx.ExecContext(ctx,
				`UPDATE schedules SET start_time = ?, end_time = ?, content = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
				 WHERE id = ? AND version = ?`,
				req.NewStart, req.NewEnd, *req.NewContent, sched.ID, sched.Version)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE schedules SET start_time = ?, end_time = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
				 WHERE id = ? AND version = ?`,
				req.NewStart, req.NewEnd, sched.ID, sched.Version)
		}
		if err != nil {
			return nil, fmt.Errorf("apply schedule change: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if affected == 0 {
			return nil, ErrConcurrentModification
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE change_requests
		 SET status = ?, resolved_by = ?, resolution_message_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending' AND version = ?`,
		to, deciderID, resolution.ID, requestID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve change request: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, negotiation.ErrRequestAlreadyResolved
	}

	if err := insertMessageTx(ctx, tx, resolution); err != nil {
		return nil, err
	}

	// Every non-declined participant gets an unseen acknowledgement row.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO acknowledgements (request_id, user_id)
		 SELECT ?, user_id FROM schedule_participants
		 WHERE schedule_id = ? AND status != 'declined'`,
		requestID, req.ScheduleID); err != nil {
		return nil, fmt.Errorf("create acknowledgements: %w", err)
	}

	row = tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, requestID)
	updated, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("re-read change request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return updated, nil
}

// rescanConflictsTx runs the same pure conflict scan the proposal went
// through, but over transaction-scoped booked intervals.
func rescanConflictsTx(ctx context.Context, tx *sql.Tx, scheduleID, creatorID int64, candidate interval.Interval) ([]conflict.Conflict, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM schedule_participants WHERE schedule_id = ? AND status != 'declined'`,
		scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	ids := map[int64]struct{}{creatorID: {}}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var conflicts []conflict.Conflict
	for _, userID := range sorted {
		booked, err := bookedIntervalsTx(ctx, tx, userID, scheduleID)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict.Scan(candidate, userID, booked)...)
	}
	return conflicts, nil
}

// MarkAcknowledged flips one recipient's acknowledgement to seen. Calls
// for unknown recipients or already-seen rows affect nothing and succeed.
func (db *DB) MarkAcknowledged(ctx context.Context, requestID string, userID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE acknowledgements SET seen = 1, seen_at = CURRENT_TIMESTAMP
		 WHERE request_id = ? AND user_id = ? AND seen = 0`,
		requestID, userID)
	if err != nil {
		return fmt.Errorf("mark acknowledged: %w", err)
	}
	return nil
}

// UnseenResolutions is the SQLite projection behind the notification feed.
func (db *DB) UnseenResolutions(ctx context.Context, userID int64) ([]models.ResolutionNotice, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT cr.id, cr.schedule_id, s.title, cr.status, cr.updated_at
		 FROM acknowledgements a
		 JOIN change_requests cr ON cr.id = a.request_id
		 JOIN schedules s ON s.id = cr.schedule_id
		 WHERE a.user_id = ? AND a.seen = 0
		 ORDER BY cr.updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("unseen resolutions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []models.ResolutionNotice
	for rows.Next() {
		var n models.ResolutionNotice
		if err := rows.Scan(&n.RequestID, &n.ScheduleID, &n.ScheduleTitle, &n.State, &n.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListUndeliveredResolutions feeds the push notifier.
func (db *DB) ListUndeliveredResolutions(ctx context.Context, limit int) ([]models.ChangeRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM change_requests
		 WHERE status != 'pending' AND delivered = 0
		 ORDER BY updated_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered resolutions: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (db *DB) MarkDelivered(ctx context.Context, requestID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE change_requests SET delivered = 1 WHERE id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// ListRecipients returns the resolution's recipients that have a linked
// push channel.
func (db *DB) ListRecipients(ctx context.Context, requestID string) ([]models.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT u.id, u.name, u.telegram_chat_id, u.created_at
		 FROM acknowledgements a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.request_id = ? AND u.telegram_chat_id != 0
		 ORDER BY u.id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.TelegramChatID, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

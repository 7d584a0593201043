package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"teamplan/internal/models"
	"teamplan/internal/negotiation"
)

func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO users (name, telegram_chat_id) VALUES (?, ?)`,
		u.Name, u.TelegramChatID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx,
		`SELECT id, name, telegram_chat_id, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.TelegramChatID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// UserExists answers the conflict detector's participant lookups.
func (db *DB) UserExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user %d: %w", id, err)
	}
	return true, nil
}

// LinkTelegramChat binds a chat id for push notifications.
func (db *DB) LinkTelegramChat(ctx context.Context, userID, chatID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ? WHERE id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("link telegram chat: %w", err)
	}
	return nil
}

func (db *DB) CreateTeam(ctx context.Context, t *models.Team) error {
	res, err := db.ExecContext(ctx, `INSERT INTO teams (name) VALUES (?)`, t.Name)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (db *DB) AddTeamMember(ctx context.Context, teamID, userID int64, role models.Role) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(team_id, user_id) DO UPDATE SET role = excluded.role`,
		teamID, userID, role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

// GetMemberRole returns the user's role in the team and whether a
// membership row exists.
func (db *DB) GetMemberRole(ctx context.Context, teamID, userID int64) (models.Role, bool, error) {
	var role models.Role
	err := db.QueryRowContext(ctx,
		`SELECT role FROM team_members WHERE team_id = ? AND user_id = ?`,
		teamID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get member role: %w", err)
	}
	return role, true, nil
}

func (db *DB) BlockUser(ctx context.Context, userID, blockedBy int64, reason string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blocked_users (user_id, blocked_by, reason) VALUES (?, ?, ?)`,
		userID, blockedBy, reason)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

func (db *DB) UnblockUser(ctx context.Context, userID int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blocked_users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	return nil
}

func (db *DB) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM blocked_users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blocked %d: %w", userID, err)
	}
	return true, nil
}

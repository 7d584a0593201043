package database

import (
	"context"
	"database/sql"
	"fmt"

	"teamplan/internal/models"
)

func insertMessageTx(ctx context.Context, tx *sql.Tx, m *models.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, team_id, author_id, date, kind, content, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TeamID, m.AuthorID, m.Date, m.Kind, m.Content, nullString(m.RequestID))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AppendMessage stores a plain chat message.
func (db *DB) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, team_id, author_id, date, kind, content, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TeamID, m.AuthorID, m.Date, m.Kind, m.Content, nullString(m.RequestID))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns one day bucket of a team's chat, oldest first.
func (db *DB) ListMessages(ctx context.Context, teamID int64, date string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, team_id, author_id, date, kind, content, COALESCE(request_id, ''), created_at
		 FROM messages
		 WHERE team_id = ? AND date = ?
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?`,
		teamID, date, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TeamID, &m.AuthorID, &m.Date, &m.Kind, &m.Content, &m.RequestID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
